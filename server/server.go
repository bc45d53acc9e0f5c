package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/manualqa/manualqa/internal/models"
	"github.com/manualqa/manualqa/pkg/query"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Be careful with this in production
	},
}

type Message struct {
	Type    string      `json:"type"`
	Content string      `json:"content"`
	Data    interface{} `json:"data,omitempty"`
}

type CitationPayload struct {
	Marker      int    `json:"marker"`
	SourcePath  string `json:"source_path"`
	HeadingPath string `json:"heading_path,omitempty"`
	Model       string `json:"model,omitempty"`
}

type AnswerPayload struct {
	Answer     string            `json:"answer"`
	Citations  []CitationPayload `json:"citations,omitempty"`
	Confidence float32           `json:"confidence"`
	NoEvidence bool              `json:"no_evidence"`
}

type Server struct {
	engine    *query.Engine
	timeout   time.Duration
	streaming bool
}

// New wires a server over the query engine. With streaming enabled the
// websocket endpoint sends the answer text as incremental "stream"
// messages before the final "response".
func New(engine *query.Engine, timeout time.Duration, streaming bool) *Server {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Server{engine: engine, timeout: timeout, streaming: streaming}
}

// Start blocks serving /ask (HTTP POST), /ws (WebSocket) and /health.
func (s *Server) Start(addr string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ask", s.handleAsk)
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	log.Printf("Starting server on %s", addr)
	return http.ListenAndServe(addr, mux)
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Question string `json:"question"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Question == "" {
		http.Error(w, "question is required", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	answer, err := s.engine.AnswerQuestion(ctx, req.Question)
	if err != nil {
		log.Printf("Error answering question: %v", err)
		http.Error(w, "failed to answer question", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(answerPayload(answer))
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			log.Printf("Error reading message: %v", err)
			break
		}

		var msg Message
		if err := json.Unmarshal(message, &msg); err != nil {
			log.Printf("Error unmarshaling message: %v", err)
			continue
		}

		s.handleMessage(conn, msg)
	}
}

func (s *Server) handleMessage(conn *websocket.Conn, msg Message) {
	question := msg.Content
	if question == "" {
		s.sendMessage(conn, "error", "question is required")
		return
	}

	s.sendMessage(conn, "status", "Searching the manuals...")

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	var answer models.Answer
	var err error
	if s.streaming {
		answer, err = s.engine.AnswerQuestionStream(ctx, question, func(chunk string) {
			s.sendMessage(conn, "stream", chunk)
		})
	} else {
		answer, err = s.engine.AnswerQuestion(ctx, question)
	}
	if err != nil {
		s.sendMessage(conn, "error", fmt.Sprintf("Error: %v", err))
		return
	}

	payload := answerPayload(answer)
	if err := conn.WriteJSON(Message{Type: "response", Content: answer.Text, Data: payload}); err != nil {
		log.Printf("Error sending message: %v", err)
	}
}

func (s *Server) sendMessage(conn *websocket.Conn, msgType string, content string) {
	msg := Message{
		Type:    msgType,
		Content: content,
	}
	if err := conn.WriteJSON(msg); err != nil {
		log.Printf("Error sending message: %v", err)
	}
}

func answerPayload(answer models.Answer) AnswerPayload {
	payload := AnswerPayload{
		Answer:     answer.Text,
		Confidence: answer.Confidence,
		NoEvidence: answer.NoEvidence,
	}
	for _, c := range answer.Citations {
		payload.Citations = append(payload.Citations, CitationPayload{
			Marker:      c.Marker,
			SourcePath:  c.SourcePath,
			HeadingPath: c.HeadingPath,
			Model:       c.Model,
		})
	}
	return payload
}
