// cmd/chatclient/main.go
// Main entry point for the chat client engine
// This file bootstraps all components and runs until interrupted

package main

import (
    "context"
    "fmt"
    "log"
    "net/http"
    "os"
    "os/signal"
    "strconv"
    "syscall"

    "github.com/gorilla/mux"
    "github.com/joho/godotenv"
    "github.com/prometheus/client_golang/prometheus/promhttp"

    // Internal packages
    "github.com/Henry1610/social-app-client-sub000/internal/api"
    "github.com/Henry1610/social-app-client-sub000/internal/chat"
    "github.com/Henry1610/social-app-client-sub000/internal/config"
    "github.com/Henry1610/social-app-client-sub000/internal/events"
    "github.com/Henry1610/social-app-client-sub000/internal/transport"
)

func main() {
    log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)

    log.Println("========================================")
    log.Println("🚀 Starting conversation sync client")
    log.Println("========================================")

    // 1. Load environment variables
    log.Println("📁 Step 1: Loading .env file...")
    if err := godotenv.Load(); err != nil {
        log.Printf("⚠️  No .env file found (%v), using environment variables", err)
    }

    // 2. Load and validate configuration
    log.Println("📋 Step 2: Loading configuration...")
    cfg := config.Load()
    if err := cfg.Validate(); err != nil {
        log.Fatal("❌ Configuration validation failed: ", err)
    }
    log.Println("✅ Configuration is valid")

    // 3. Event bus (explicitly owned, disposed on teardown)
    log.Println("🚌 Step 3: Creating event bus...")
    bus := events.New()
    defer bus.Close()

    // 4. REST client
    log.Println("🌐 Step 4: Creating REST client...")
    restClient := api.NewClient(cfg.APIBaseURL, cfg.AuthToken, cfg.HTTPTimeout)

    // 5. Transport connection
    log.Println("🔌 Step 5: Dialing transport...")
    ctx := context.Background()
    conn, err := transport.Dial(ctx, transport.Config{
        URL:                  cfg.WSURL,
        Token:                cfg.AuthToken,
        ReconnectBaseDelay:   cfg.ReconnectBaseDelay,
        ReconnectMaxDelay:    cfg.ReconnectMaxDelay,
        MaxReconnectAttempts: cfg.MaxReconnectAttempts,
    }, bus)
    if err != nil {
        log.Fatal("❌ Failed to connect transport: ", err)
    }
    defer conn.Close()
    log.Println("✅ Transport connected")

    // 6. Conversation engine
    log.Println("💬 Step 6: Wiring conversation engine...")
    cache := chat.NewCache(cfg.ViewerID)
    broadcaster := chat.NewTypingBroadcaster(cfg.TypingIdle, func(conversationID int64, started bool) {
        if err := conn.SendTyping(conversationID, started); err != nil {
            log.Printf("typing signal failed: %v", err)
        }
    })
    typists := chat.NewTypistSet(cfg.TypingTTL)
    coordinator := chat.NewCoordinator(cache, restClient, cfg.ViewerID,
        confirmOnTerminal,
        func(conversationID int64, content string) {
            log.Printf("💾 send failed, composer content restored for conversation %d: %q", conversationID, content)
        },
        func(kind string, err error) {
            log.Printf("⚠️  %s was rolled back: %v", kind, err)
        },
    )
    defer coordinator.Close()

    controller := chat.NewController(bus, restClient, conn, cache, coordinator,
        typists, broadcaster, cfg.ViewerID, cfg.MessagePageSize)
    controller.OnNotice = func(level, message string) {
        log.Printf("📣 [%s] %s", level, message)
    }
    controller.OnEvicted = func(conversationID int64, reason string) {
        log.Printf("🚪 conversation %d closed (%s), navigating away", conversationID, reason)
    }
    defer controller.Close()

    // 7. Debug listener
    log.Println("🩺 Step 7: Starting debug listener on ", cfg.DebugListenAddr)
    router := mux.NewRouter()
    router.Handle("/metrics", promhttp.Handler())
    router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
        w.WriteHeader(http.StatusOK)
        fmt.Fprintln(w, "ok")
    })
    router.HandleFunc("/debug/state", func(w http.ResponseWriter, r *http.Request) {
        view := controller.CurrentView()
        if view.Conversation == nil {
            fmt.Fprintln(w, "no active conversation")
            return
        }
        fmt.Fprintf(w, "conversation=%d messages=%d pinned=%d typists=%v\n",
            view.Conversation.ID, len(view.Messages), len(view.Pinned), view.Typists)
    })
    debugServer := &http.Server{Addr: cfg.DebugListenAddr, Handler: router}
    go func() {
        if err := debugServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
            log.Printf("debug listener failed: %v", err)
        }
    }()
    defer debugServer.Close()

    // 8. Select the initial conversation when one was supplied
    if raw := os.Getenv("CONVERSATION_ID"); raw != "" {
        if id, err := strconv.ParseInt(raw, 10, 64); err == nil {
            log.Printf("👀 Step 8: Selecting conversation %d...", id)
            controller.Select(ctx, id)
        }
    }

    log.Println("✅ Client running. Press Ctrl+C to exit.")
    quit := make(chan os.Signal, 1)
    signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
    <-quit

    log.Println("🛑 Shutting down...")
}

// confirmOnTerminal gates destructive actions. A headless run declines them,
// which is the safe default for state-reducing mutations.
func confirmOnTerminal(action string) bool {
    fmt.Printf("confirm %s? [y/N] ", action)
    var answer string
    if _, err := fmt.Scanln(&answer); err != nil {
        return false
    }
    return answer == "y" || answer == "Y"
}
