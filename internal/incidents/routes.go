package incidents

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

func SetupRoutes() http.Handler {
	r := chi.NewRouter()

	r.Get("/incidents", GetIncidents)
	r.Get("/cities", GetCities)

	return r
}
