package main

import (
	"database/sql"
	"log"
	"net/http"

	_ "github.com/lib/pq"

	"realtimeedit/go-server/api"
	"realtimeedit/go-server/config"
	"realtimeedit/go-server/coordinator"
	"realtimeedit/go-server/metrics"
	ownredis "realtimeedit/go-server/redis"
	"realtimeedit/go-server/session"
	"realtimeedit/go-server/storage"
)

func main() {
	cfg := config.Load()

	db, err := sql.Open("postgres", cfg.PostgresDSN)
	if err != nil {
		log.Fatal("failed to open postgres: ", err)
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		log.Fatal("failed to ping postgres: ", err)
	}
	log.Println("connected to postgres")

	redisClient, err := ownredis.Connect()
	if err != nil {
		log.Fatal("failed to connect to redis: ", err)
	}
	defer redisClient.Close()
	log.Println("connected to redis")

	agg := metrics.New()

	var store session.Store
	pg := session.NewPostgresStore(db, redisClient, func(err error) {
		agg.RecordError("store_unavailable")
		log.Printf("session store degraded: %v", err)
	})
	store = pg

	var s3Client *storage.S3Client
	if cfg.S3Bucket != "" {
		s3Client, err = storage.NewS3Client(cfg.S3Region, cfg.S3Bucket)
		if err != nil {
			log.Printf("s3 archival disabled: %v", err)
			s3Client = nil
		}
	}

	hub := coordinator.NewHub(store, agg, s3Client)
	go hub.Run()

	apiServer := api.NewServer(store, agg, hub)

	mux := http.NewServeMux()
	apiServer.Routes(mux)
	mux.Handle("/", http.FileServer(http.Dir(cfg.StaticDir)))

	log.Printf("server starting on %s", cfg.ListenAddr)
	log.Fatal(http.ListenAndServe(cfg.ListenAddr, mux))
}
