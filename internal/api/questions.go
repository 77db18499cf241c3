package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/notmtri/necspeaking/internal/database"
	"github.com/notmtri/necspeaking/internal/mqttclient"
)

// QuestionStore persists practice questions.
type QuestionStore interface {
	ListQuestions(ctx context.Context) ([]database.Question, error)
	RandomQuestion(ctx context.Context) (*database.Question, error)
	CreateQuestion(ctx context.Context, topic, question, category string) (int, error)
	UpdateQuestion(ctx context.Context, id int, p database.QuestionPatch) error
	DeleteQuestion(ctx context.Context, id int) error
}

type QuestionsHandler struct {
	store  QuestionStore
	auth   AdminChecker
	events EventPublisher
	log    zerolog.Logger
}

func NewQuestionsHandler(store QuestionStore, auth AdminChecker, events EventPublisher, log zerolog.Logger) *QuestionsHandler {
	return &QuestionsHandler{
		store:  store,
		auth:   auth,
		events: events,
		log:    log.With().Str("handler", "questions").Logger(),
	}
}

func (h *QuestionsHandler) Routes(r chi.Router) {
	r.Get("/questions", h.List)
	r.Get("/questions/random", h.Random)
	r.Group(func(r chi.Router) {
		r.Use(RequireAdmin(h.auth))
		r.Post("/questions", h.Create)
		r.Put("/questions/{id}", h.Update)
		r.Delete("/questions/{id}", h.Delete)
	})
}

// List handles GET /api/questions.
func (h *QuestionsHandler) List(w http.ResponseWriter, r *http.Request) {
	questions, err := h.store.ListQuestions(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("list questions failed")
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"questions": questions})
}

// Random handles GET /api/questions/random.
func (h *QuestionsHandler) Random(w http.ResponseWriter, r *http.Request) {
	q, err := h.store.RandomQuestion(r.Context())
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			WriteError(w, http.StatusNotFound, "No questions")
			return
		}
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"question": q})
}

type questionBody struct {
	Topic    *string `json:"topic"`
	Question *string `json:"question"`
	Category *string `json:"category"`
}

// Create handles POST /api/questions.
func (h *QuestionsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var body questionBody
	if err := DecodeJSON(r, &body); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.Topic == nil || body.Question == nil ||
		strings.TrimSpace(*body.Topic) == "" || strings.TrimSpace(*body.Question) == "" {
		WriteError(w, http.StatusBadRequest, "topic and question are required")
		return
	}
	category := database.DefaultCategory
	if body.Category != nil && *body.Category != "" {
		category = *body.Category
	}

	id, err := h.store.CreateQuestion(r.Context(), *body.Topic, *body.Question, category)
	if err != nil {
		h.log.Error().Err(err).Msg("create question failed")
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	publish(h.events, mqttclient.KindQuestionCreated, map[string]any{"id": id, "topic": *body.Topic})
	WriteJSON(w, http.StatusOK, SuccessResponse{Success: true, ID: id})
}

// Update handles PUT /api/questions/{id} with a partial JSON body.
func (h *QuestionsHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := PathInt(r, "id")
	if err != nil {
		WriteError(w, http.StatusBadRequest, "invalid question id")
		return
	}
	var body questionBody
	if err := DecodeJSON(r, &body); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	err = h.store.UpdateQuestion(r.Context(), id, database.QuestionPatch{
		Topic:    body.Topic,
		Question: body.Question,
		Category: body.Category,
	})
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			WriteError(w, http.StatusNotFound, "Not found")
			return
		}
		h.log.Error().Err(err).Int("id", id).Msg("update question failed")
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	publish(h.events, mqttclient.KindQuestionUpdated, map[string]int{"id": id})
	WriteJSON(w, http.StatusOK, SuccessResponse{Success: true})
}

// Delete handles DELETE /api/questions/{id}.
func (h *QuestionsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := PathInt(r, "id")
	if err != nil {
		WriteError(w, http.StatusBadRequest, "invalid question id")
		return
	}
	if err := h.store.DeleteQuestion(r.Context(), id); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			WriteError(w, http.StatusNotFound, "Not found")
			return
		}
		h.log.Error().Err(err).Int("id", id).Msg("delete question failed")
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	publish(h.events, mqttclient.KindQuestionDeleted, map[string]int{"id": id})
	WriteJSON(w, http.StatusOK, SuccessResponse{Success: true})
}
