package controllers

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"climbwall/metrics"
	"climbwall/ollama"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second
	// Time allowed to wait for the prompt.
	readWait       = 60 * time.Second
	maxPromptBytes = 64 * 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// ChatStreamer A model server that streams chat completions
type ChatStreamer interface {
	ChatStream(ctx context.Context, req ollama.ChatRequest, fn func(ollama.ChatResponse) error) error
}

// ChatWebsocket Read one prompt, stream the answer of the model as text frames and close
func ChatWebsocket(client ChatStreamer, model string) gin.HandlerFunc {
	return func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Warn(fmt.Sprintf("Websocket upgrade failed: %s", err.Error()))
			return
		}
		defer conn.Close()

		conn.SetReadLimit(maxPromptBytes)
		_ = conn.SetReadDeadline(time.Now().Add(readWait))
		_, prompt, err := conn.ReadMessage()
		if err != nil {
			log.Debug(fmt.Sprintf("Websocket read: %s", err.Error()))
			return
		}

		send := func(text string) error {
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			return conn.WriteMessage(websocket.TextMessage, []byte(text))
		}

		err = client.ChatStream(c.Request.Context(), ollama.ChatRequest{
			Model:    model,
			Messages: []ollama.Message{{Role: "user", Content: string(prompt)}},
		}, func(chunk ollama.ChatResponse) error {
			if chunk.Message.Content == "" {
				return nil
			}
			return send(chunk.Message.Content)
		})
		if err != nil {
			log.WithFields(log.Fields{"model": model}).Warn(fmt.Sprintf("Chat stream failed: %s", err.Error()))
			_ = send(fmt.Sprintf("Error: %s", err.Error()))
		}

		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	}
}

// NewChatRouter Websocket chat against the model server
func NewChatRouter(client ChatStreamer, model string) *gin.Engine {
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(metrics.Middleware())

	r.GET("/version", VersionHandler)
	r.GET("/metrics", metrics.Handler())
	r.GET("/ws/chat", ChatWebsocket(client, model))
	return r
}
