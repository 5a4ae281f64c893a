package main

import (
	"log"
	"net/http"

	"github.com/joho/godotenv"

	"phantommask/m/internal/api"
	"phantommask/m/internal/config"
	"phantommask/m/internal/database"
	"phantommask/m/internal/migrations"
	"phantommask/m/internal/seed"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	db := database.Connect(cfg.DatabaseDSN)
	defer db.Close()

	migrations.Run(db)
	seed.Load(db, "assets/users.json", "assets/pharmacies.json")

	handler := api.New(db, cfg.Secret)

	log.Printf("PhantomMask marketplace server starting on :%s", cfg.HTTPPort)
	if err := http.ListenAndServe(":"+cfg.HTTPPort, handler.Router()); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
