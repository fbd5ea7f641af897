// Package respond - общий JSON-ответ для хендлеров и middleware.
// Лист в графе зависимостей: его импортируют и api, и infra/auth.
package respond

import (
	"encoding/json"
	"net/http"
)

// JSON отдаёт v как JSON с нужным статусом.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
