package sqlinline

const QCreateJob = `--sql 268cddc7-18db-4350-ba55-93b971404ba0
INSERT INTO generation_jobs (
    id, tenant_id, output_type, request, state,
    stage_attempts, stage_outputs, result_ref,
    error_kind, error_message, last_error,
    cancel_requested, run_not_before, version
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, 1);
`

const QGetJob = `--sql 8269d885-efdd-41f4-a81b-e891ad516ed6
SELECT id, tenant_id, output_type, request, state,
       stage_attempts, stage_outputs, result_ref,
       error_kind, error_message, last_error,
       cancel_requested, run_not_before, created_at, updated_at, version
FROM generation_jobs
WHERE id = $1;
`

const QSwapJob = `--sql 79ce960f-6601-4412-9125-6621615ca19f
UPDATE generation_jobs
SET output_type = $3,
    request = $4,
    state = $5,
    stage_attempts = $6,
    stage_outputs = $7,
    result_ref = $8,
    error_kind = $9,
    error_message = $10,
    last_error = $11,
    cancel_requested = $12,
    run_not_before = $13,
    version = version + 1,
    updated_at = now()
WHERE id = $1 AND version = $2
RETURNING created_at, updated_at, version;
`

const QListRunnableJobs = `--sql 463ae6f3-7515-4c83-9733-e4c1dc819c26
SELECT id, tenant_id, output_type, request, state,
       stage_attempts, stage_outputs, result_ref,
       error_kind, error_message, last_error,
       cancel_requested, run_not_before, created_at, updated_at, version
FROM generation_jobs
WHERE state NOT IN ('COMPLETED', 'FAILED')
  AND run_not_before <= now()
ORDER BY created_at ASC
LIMIT $1;
`

const QCancelJob = `--sql 09e81b3e-0f04-402e-9458-eeeebebc9c9d
UPDATE generation_jobs
SET cancel_requested = TRUE,
    version = version + 1,
    updated_at = now()
WHERE id = $1
  AND state NOT IN ('COMPLETED', 'FAILED')
  AND NOT cancel_requested
RETURNING id;
`

const QJobExists = `--sql 54a919e6-58d8-4700-9ad3-dda32d674f45
SELECT 1 FROM generation_jobs WHERE id = $1;
`
