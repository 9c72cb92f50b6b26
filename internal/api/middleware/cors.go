package middleware

import (
	"net/http"
	"os"
	"strings"
)

// defaultDashboardOrigins - origins дашборда, разрешённые без настройки.
// Production домены дашборда добавляются через CORS_ALLOWED_ORIGINS.
var defaultDashboardOrigins = []string{
	"http://localhost:3000",
	"http://127.0.0.1:3000",
}

// allowedOrigins строится один раз при старте из defaults + env
var allowedOrigins = buildAllowedOrigins(os.Getenv("CORS_ALLOWED_ORIGINS"))

func buildAllowedOrigins(extra string) map[string]bool {
	origins := make(map[string]bool, len(defaultDashboardOrigins))
	for _, origin := range defaultDashboardOrigins {
		origins[origin] = true
	}
	for _, origin := range strings.Split(extra, ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			origins[origin] = true
		}
	}
	return origins
}

// CORS открывает API для браузерного дашборда, живущего на другом
// домене. Снапшоты аккаунтов - приватные данные, поэтому wildcard с
// credentials не используется: разрешённый origin возвращается как
// есть, неразрешённый не получает CORS заголовков вовсе и браузер
// блокирует ответ.
//
// Дашборд шлёт заголовки Authorization (access token) и X-User-ID,
// оба должны быть в Allow-Headers, иначе preflight провалится.
// Методы ограничены реальной поверхностью API: GET для данных и
// health, POST для принудительного refresh.
func CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")

		switch {
		case origin == "":
			// Не-браузерные клиенты (curl, мониторинг) - без ограничений
			w.Header().Set("Access-Control-Allow-Origin", "*")
		case allowedOrigins[origin]:
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
		}

		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-User-ID")
		w.Header().Set("Access-Control-Max-Age", "86400")

		// Preflight завершается здесь, до auth и rate limiting
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
