package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"scriptdesk/internal/domain"
	"scriptdesk/internal/failure"
	"scriptdesk/internal/validate"
)

// Login exchanges credentials for a bearer token and the backend-issued actor.
func (c *Client) Login(ctx context.Context, creds domain.Credentials) (string, domain.Actor, error) {
	if err := validate.Credentials(creds); err != nil {
		return "", domain.Actor{}, err
	}
	var resp LoginResponse
	err := c.do(ctx, call{
		method:   http.MethodPost,
		endpoint: "usuarios/login",
		body:     LoginRequest{Email: creds.Email, Senha: creds.Password},
		out:      &resp,
	})
	if err != nil {
		return "", domain.Actor{}, err
	}
	if resp.Token == "" {
		return "", domain.Actor{}, fmt.Errorf("%w: login response carried no token", failure.ErrBackend)
	}
	actor, err := resp.Usuario.actor(true)
	if err != nil {
		return "", domain.Actor{}, err
	}
	return resp.Token, actor, nil
}

// Register creates a staff account.
func (c *Client) Register(ctx context.Context, r domain.Registration) (domain.Actor, error) {
	if err := validate.Registration(r); err != nil {
		return domain.Actor{}, err
	}
	var resp Envelope[UserResponse]
	err := c.do(ctx, call{
		method:   http.MethodPost,
		endpoint: "usuarios/cadastrar",
		body: RegisterRequest{
			Nome:           r.Name,
			Email:          r.Email,
			Senha:          r.Password,
			ConfirmarSenha: r.Password,
			Cargo:          r.Role.Wire(),
		},
		out: &resp,
	})
	if err != nil {
		return domain.Actor{}, err
	}
	return resp.Data.actor(true)
}

// User fetches a staff account by id.
func (c *Client) User(ctx context.Context, id int64) (domain.Actor, error) {
	var resp Envelope[UserResponse]
	err := c.do(ctx, call{method: http.MethodGet, endpoint: "usuarios/listar/" + itoa(id), out: &resp})
	if err != nil {
		return domain.Actor{}, err
	}
	return resp.Data.actor(c.Strict)
}

// Submit sends a new script through the public intake endpoint.
func (c *Client) Submit(ctx context.Context, s domain.Submission) (domain.Script, error) {
	if err := validate.Submission(s); err != nil {
		return domain.Script{}, err
	}
	return c.script(ctx, call{
		method:   http.MethodPost,
		endpoint: "roteiros/enviar",
		body: SubmitRequest{
			Titulo:          s.Title,
			Conteudo:        s.Content,
			ClienteNome:     s.Submitter.Name,
			ClienteEmail:    s.Submitter.Email,
			ClienteTelefone: s.Submitter.Phone,
		},
	})
}

// Script fetches the canonical snapshot of one script.
func (c *Client) Script(ctx context.Context, id int64) (domain.Script, error) {
	return c.script(ctx, call{method: http.MethodGet, endpoint: "roteiros/" + itoa(id)})
}

// LookupByEmail is the public status lookup by submitter email.
func (c *Client) LookupByEmail(ctx context.Context, email string) (domain.Script, error) {
	if err := validate.Email(email); err != nil {
		return domain.Script{}, err
	}
	return c.script(ctx, call{method: http.MethodGet, endpoint: "roteiros/" + url.PathEscape(email)})
}

func (c *Client) List(ctx context.Context) ([]domain.Script, error) {
	var resp []ScriptResponse
	if err := c.do(ctx, call{method: http.MethodGet, endpoint: "roteiros/listar-todos", out: &resp}); err != nil {
		return nil, err
	}
	out := make([]domain.Script, 0, len(resp))
	for _, r := range resp {
		s, err := c.decode(r)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func (c *Client) AssumeAnalysis(ctx context.Context, scriptID, actorID int64) (domain.Script, error) {
	return c.script(ctx, call{method: http.MethodPut, endpoint: "roteiros/assumir-analise/" + itoa(scriptID) + "/" + itoa(actorID)})
}

// Analyze records the analysis decision: fit sends the script to review,
// otherwise it is rejected.
func (c *Client) Analyze(ctx context.Context, scriptID, actorID int64, justification string, fit bool) (domain.Script, error) {
	return c.script(ctx, call{
		method:   http.MethodPut,
		endpoint: "roteiros/analisar/" + itoa(scriptID),
		query:    actorQuery(actorID),
		body:     AnalysisRequest{Justificativa: justification, Apto: fit},
	})
}

func (c *Client) AssumeReview(ctx context.Context, scriptID, actorID int64) (domain.Script, error) {
	return c.script(ctx, call{method: http.MethodPut, endpoint: "roteiros/assumir-revisao/" + itoa(scriptID) + "/" + itoa(actorID)})
}

func (c *Client) Review(ctx context.Context, scriptID, actorID int64, notes string) (domain.Script, error) {
	return c.script(ctx, call{
		method:   http.MethodPut,
		endpoint: "roteiros/revisar/" + itoa(scriptID),
		query:    actorQuery(actorID),
		body:     ReviewRequest{Observacoes: notes},
	})
}

func (c *Client) Vote(ctx context.Context, scriptID, actorID int64, approve bool, justification string) (domain.Script, error) {
	return c.script(ctx, call{
		method:   http.MethodPost,
		endpoint: "roteiros/votar/" + itoa(scriptID),
		query:    actorQuery(actorID),
		body:     VoteRequest{Aprovado: approve, Justificativa: justification},
	})
}

func (c *Client) script(ctx context.Context, cl call) (domain.Script, error) {
	var resp ScriptResponse
	cl.out = &resp
	if err := c.do(ctx, cl); err != nil {
		return domain.Script{}, err
	}
	return c.decode(resp)
}

func actorQuery(actorID int64) url.Values {
	return url.Values{"usuarioId": []string{itoa(actorID)}}
}

func itoa(v int64) string { return strconv.FormatInt(v, 10) }
