package main

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/Tyrowin/roomrelay/internal/server"
)

const shutdownTimeout = 10 * time.Second

func main() {
	fmt.Println("Starting RoomRelay server...")

	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	config := server.NewConfigFromEnv()
	server.SetConfig(config)

	registry := server.NewRegistry()
	hub := server.NewHub(registry)
	go hub.Run()

	mux := server.SetupRoutes(hub)
	httpServer := server.CreateServer(config.Port, mux)

	go func() {
		if err := server.StartServer(httpServer); !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	if err := server.ShutdownServer(httpServer, shutdownTimeout); err != nil {
		log.Printf("HTTP shutdown error: %v", err)
	}
	if err := hub.Shutdown(shutdownTimeout); err != nil {
		log.Printf("Hub shutdown error: %v", err)
	}
}
