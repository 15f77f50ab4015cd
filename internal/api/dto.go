package api

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"scriptdesk/internal/domain"
	"scriptdesk/internal/failure"
	"scriptdesk/internal/status"
)

// Wire shapes of the script review service. Field names follow the service's
// JSON contract.

type LoginRequest struct {
	Email string `json:"email"`
	Senha string `json:"senha"`
}

type LoginResponse struct {
	Token   string       `json:"token"`
	Message string       `json:"message,omitempty"`
	Usuario UserResponse `json:"usuario"`
}

type RegisterRequest struct {
	Nome           string `json:"nome"`
	Email          string `json:"email"`
	Senha          string `json:"senha"`
	ConfirmarSenha string `json:"confirmarSenha"`
	Cargo          string `json:"cargo"`
}

// Envelope is the service's generic message wrapper used by the user endpoints.
type Envelope[T any] struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
	Data    T      `json:"data"`
}

type UserResponse struct {
	ID    int64  `json:"id"`
	Nome  string `json:"nome"`
	Email string `json:"email"`
	Cargo string `json:"cargo"`
}

type SubmitRequest struct {
	Titulo          string `json:"titulo"`
	Conteudo        string `json:"conteudo"`
	ClienteNome     string `json:"clienteNome"`
	ClienteEmail    string `json:"clienteEmail"`
	ClienteTelefone string `json:"clienteTelefone"`
}

type ClientResponse struct {
	ID       int64  `json:"id"`
	Nome     string `json:"nome"`
	Email    string `json:"email"`
	Telefone string `json:"telefone,omitempty"`
}

type VoteResponse struct {
	Usuario       UserResponse `json:"usuario"`
	Aprovado      bool         `json:"aprovado"`
	Justificativa string       `json:"justificativa,omitempty"`
}

type HistoryResponse struct {
	Status     string `json:"status"`
	Usuario    string `json:"usuario,omitempty"`
	Data       string `json:"data"`
	Observacao string `json:"observacao,omitempty"`
}

type ScriptResponse struct {
	ID                 int64             `json:"id"`
	Titulo             string            `json:"titulo"`
	Conteudo           string            `json:"conteudo,omitempty"`
	Status             string            `json:"status"`
	DataEnvio          string            `json:"dataEnvio"`
	ObservacoesAnalise string            `json:"observacoesAnalise,omitempty"`
	ObservacoesRevisao string            `json:"observacoesRevisao,omitempty"`
	Cliente            *ClientResponse   `json:"cliente,omitempty"`
	UsuarioResponsavel *UserResponse     `json:"usuarioResponsavel,omitempty"`
	Votos              []VoteResponse    `json:"votos,omitempty"`
	Historico          []HistoryResponse `json:"historico,omitempty"`
}

type AnalysisRequest struct {
	Justificativa string `json:"justificativa"`
	Apto          bool   `json:"apto"`
}

type ReviewRequest struct {
	Observacoes string `json:"observacoes"`
}

type VoteRequest struct {
	Aprovado      bool   `json:"aprovado"`
	Justificativa string `json:"justificativa"`
}

// TimeLayout is the service's local date-time format.
const TimeLayout = "2006-01-02T15:04:05"

var timeLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999999", TimeLayout}

// ParseTime accepts zoned and zone-less timestamps; zone-less values are UTC.
func ParseTime(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", raw)
}

func (u UserResponse) actor(strict bool) (domain.Actor, error) {
	a := domain.Actor{ID: u.ID, Name: u.Nome, Email: u.Email}
	role, err := domain.ParseRole(u.Cargo)
	if err != nil {
		if strict {
			return a, fmt.Errorf("%w: user %d: %w", failure.ErrBackend, u.ID, err)
		}
		return a, nil
	}
	a.Role = role
	return a, nil
}

// decode converts a wire script into a snapshot.
func (c *Client) decode(r ScriptResponse) (domain.Script, error) {
	m := c.mapping()
	s := domain.Script{
		ID:            r.ID,
		Title:         r.Titulo,
		Content:       r.Conteudo,
		RawStatus:     r.Status,
		AnalysisNotes: r.ObservacoesAnalise,
		ReviewNotes:   r.ObservacoesRevisao,
	}
	st, err := m.Parse(r.Status)
	if err != nil {
		if c.Strict {
			return s, fmt.Errorf("%w: script %d: %w", failure.ErrBackend, r.ID, err)
		}
		st = m.Describe(r.Status).Status
	}
	s.Status = st
	if s.SubmittedAt, err = ParseTime(r.DataEnvio); err != nil {
		c.logger().Warn("unparseable submission date", "script_id", r.ID, "raw", r.DataEnvio)
	}
	if r.Cliente != nil {
		s.Submitter = domain.Submitter{ID: r.Cliente.ID, Name: r.Cliente.Nome, Email: r.Cliente.Email, Phone: r.Cliente.Telefone}
	}
	if r.UsuarioResponsavel != nil {
		a, err := r.UsuarioResponsavel.actor(c.Strict)
		if err != nil {
			return s, err
		}
		s.Assignee = &a
	}
	for _, v := range r.Votos {
		a, err := v.Usuario.actor(c.Strict)
		if err != nil {
			return s, err
		}
		s.Votes = append(s.Votes, domain.Vote{Actor: a, Approve: v.Aprovado, Justification: v.Justificativa})
	}
	for _, h := range r.Historico {
		entry := domain.HistoryEntry{Actor: h.Usuario, Note: h.Observacao}
		entry.Status = m.Describe(h.Status).Status
		entry.At, _ = ParseTime(h.Data)
		s.History = append(s.History, entry)
	}
	sort.SliceStable(s.History, func(i, j int) bool { return s.History[i].At.Before(s.History[j].At) })
	return s, nil
}

// EncodeScript converts a snapshot into its wire form using mapping m.
func EncodeScript(s domain.Script, m *status.Mapping) ScriptResponse {
	raw, err := m.Wire(s.Status)
	if err != nil {
		raw = s.RawStatus
	}
	out := ScriptResponse{
		ID:                 s.ID,
		Titulo:             s.Title,
		Conteudo:           s.Content,
		Status:             raw,
		DataEnvio:          s.SubmittedAt.UTC().Format(TimeLayout),
		ObservacoesAnalise: s.AnalysisNotes,
		ObservacoesRevisao: s.ReviewNotes,
		Cliente: &ClientResponse{
			ID:       s.Submitter.ID,
			Nome:     s.Submitter.Name,
			Email:    s.Submitter.Email,
			Telefone: s.Submitter.Phone,
		},
	}
	if s.Assignee != nil {
		u := EncodeUser(*s.Assignee)
		out.UsuarioResponsavel = &u
	}
	for _, v := range s.Votes {
		out.Votos = append(out.Votos, VoteResponse{Usuario: EncodeUser(v.Actor), Aprovado: v.Approve, Justificativa: v.Justification})
	}
	for _, h := range s.History {
		hw, err := m.Wire(h.Status)
		if err != nil {
			hw = h.Status.String()
		}
		out.Historico = append(out.Historico, HistoryResponse{
			Status:     hw,
			Usuario:    h.Actor,
			Data:       h.At.UTC().Format(TimeLayout),
			Observacao: h.Note,
		})
	}
	return out
}

func EncodeUser(a domain.Actor) UserResponse {
	return UserResponse{ID: a.ID, Nome: a.Name, Email: a.Email, Cargo: a.Role.Wire()}
}
