package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vuelogic/schedule-agent/internal/api"
	"github.com/vuelogic/schedule-agent/internal/config"
	"github.com/vuelogic/schedule-agent/internal/core"
	"github.com/vuelogic/schedule-agent/internal/store"
)

func main() {
	cfg := config.Load()

	log.SetFlags(log.LstdFlags | log.Lshortfile)

	// Session store is optional: without a configured endpoint the service
	// runs stateless and every read degrades to defaults.
	sessionStore := store.New(cfg)
	if !sessionStore.Available() {
		log.Println("No key-value store configured, running without persistence")
	}

	assembler := core.NewPromptAssembler(cfg, sessionStore)
	dispatcher := core.NewDispatcher(cfg)
	if !dispatcher.HasProvider() {
		log.Println("No provider credential configured; /api/chat will answer 503")
	}
	chatService := core.NewChatService(assembler, dispatcher, sessionStore)

	apiHandler := api.NewAPIHandler(cfg, sessionStore, assembler, dispatcher, chatService)
	router := api.NewRouter(apiHandler)

	serverAddr := fmt.Sprintf(":%s", cfg.HTTPPort)

	srv := &http.Server{
		Addr:         serverAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second, // LLM calls can take time
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Printf("Starting server on %s. Press Ctrl+C to quit.", serverAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Could not listen on %s: %v\n", serverAddr, err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	// Give active connections time to finish.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exiting gracefully")
}
