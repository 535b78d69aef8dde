package middleware

import (
	"context"
	"net/http"
	"strings"

	"golang.org/x/text/language"
)

type localeContextKey struct{}

// LocaleKey stores the resolved locale in the request context.
var LocaleKey = localeContextKey{}

var supportedLocales = language.NewMatcher([]language.Tag{
	language.English,
	language.Indonesian,
	language.Spanish,
	language.Japanese,
})

// I18N resolves the request locale from X-Locale or Accept-Language and
// stores it on the context. Generated copy follows this locale.
func I18N(defaultLocale string) func(http.Handler) http.Handler {
	if defaultLocale == "" {
		defaultLocale = "en"
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			locale := detectLocale(r, defaultLocale)
			ctx := context.WithValue(r.Context(), LocaleKey, locale)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func detectLocale(r *http.Request, fallback string) string {
	if v := strings.TrimSpace(r.Header.Get("X-Locale")); v != "" {
		if normalized := matchLocale(v); normalized != "" {
			return normalized
		}
	}
	if v := r.Header.Get("Accept-Language"); v != "" {
		if tags, _, err := language.ParseAcceptLanguage(v); err == nil && len(tags) > 0 {
			_, idx, conf := supportedLocales.Match(tags...)
			if conf > language.No {
				return baseLocale(idx)
			}
		}
	}
	return fallback
}

func matchLocale(value string) string {
	tag, err := language.Parse(value)
	if err != nil {
		return ""
	}
	_, idx, conf := supportedLocales.Match(tag)
	if conf == language.No {
		return ""
	}
	return baseLocale(idx)
}

func baseLocale(idx int) string {
	tags := []string{"en", "id", "es", "ja"}
	if idx >= 0 && idx < len(tags) {
		return tags[idx]
	}
	return "en"
}

func LocaleFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(LocaleKey).(string); ok {
		return v
	}
	return "en"
}
