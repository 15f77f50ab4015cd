package sandbox

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"scriptdesk/internal/api"
	"scriptdesk/internal/domain"
	"scriptdesk/internal/status"
	"scriptdesk/internal/validate"
)

type handlers struct {
	store    *Store
	auth     AuthConfig
	statuses *status.Mapping
	logger   *slog.Logger
}

type scriptOutput struct {
	Body api.ScriptResponse `json:"body"`
}

type userOutput struct {
	Body api.Envelope[api.UserResponse] `json:"body"`
}

type idInput struct {
	ID int64 `path:"id"`
}

type claimInput struct {
	ID     int64 `path:"id"`
	UserID int64 `path:"usuarioId"`
}

func (h handlers) script(s domain.Script) *scriptOutput {
	return &scriptOutput{Body: api.EncodeScript(s, h.statuses)}
}

func validationError(err error) huma.StatusError {
	var verrs validate.Errors
	if errors.As(err, &verrs) {
		details := make(map[string]any, len(verrs))
		for k, v := range verrs {
			details[k] = v
		}
		return newAPIError(http.StatusBadRequest, "validation_failed", err.Error(), details)
	}
	return newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
}

func registerUsers(hapi huma.API, h handlers) {
	huma.Register(hapi, huma.Operation{
		OperationID: "login",
		Method:      http.MethodPost,
		Path:        "/usuarios/login",
		Summary:     "Exchange credentials for a bearer token",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Body api.LoginRequest
	}) (*struct {
		Body api.LoginResponse `json:"body"`
	}, error) {
		actor, err := h.store.Authenticate(input.Body.Email, input.Body.Senha)
		if err != nil {
			return nil, handleError(err)
		}
		token, err := IssueToken(h.auth, actor)
		if err != nil {
			return nil, handleError(err)
		}
		h.logger.Info("login", "user_id", actor.ID, "role", actor.Role)
		out := &struct {
			Body api.LoginResponse `json:"body"`
		}{}
		out.Body = api.LoginResponse{Token: token, Message: "Login realizado com sucesso", Usuario: api.EncodeUser(actor)}
		return out, nil
	})

	huma.Register(hapi, huma.Operation{
		OperationID: "register",
		Method:      http.MethodPost,
		Path:        "/usuarios/cadastrar",
		Summary:     "Create a staff account",
		Errors:      []int{http.StatusBadRequest, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Body api.RegisterRequest
	}) (*userOutput, error) {
		if input.Body.Senha != input.Body.ConfirmarSenha {
			return nil, newAPIError(http.StatusBadRequest, "validation_failed", "passwords do not match", nil)
		}
		role, err := domain.ParseRole(input.Body.Cargo)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "validation_failed", err.Error(), nil)
		}
		reg := domain.Registration{Name: input.Body.Nome, Email: input.Body.Email, Password: input.Body.Senha, Role: role}
		if err := validate.Registration(reg); err != nil {
			return nil, validationError(err)
		}
		actor, err := h.store.AddUser(reg.Name, reg.Email, reg.Password, reg.Role)
		if err != nil {
			return nil, handleError(err)
		}
		return &userOutput{Body: api.Envelope[api.UserResponse]{Status: http.StatusCreated, Message: "Usuário cadastrado", Data: api.EncodeUser(actor)}}, nil
	})

	huma.Register(hapi, huma.Operation{
		OperationID: "get-user",
		Method:      http.MethodGet,
		Path:        "/usuarios/listar/{id}",
		Summary:     "Get a staff account",
		Errors:      []int{http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, input *idInput) (*userOutput, error) {
		if _, err := principalFromContext(ctx); err != nil {
			return nil, err
		}
		actor, err := h.store.User(input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &userOutput{Body: api.Envelope[api.UserResponse]{Status: http.StatusOK, Message: "OK", Data: api.EncodeUser(actor)}}, nil
	})
}

func registerScripts(hapi huma.API, h handlers) {
	huma.Register(hapi, huma.Operation{
		OperationID: "submit-script",
		Method:      http.MethodPost,
		Path:        "/roteiros/enviar",
		Summary:     "Submit a script",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body api.SubmitRequest
	}) (*scriptOutput, error) {
		sub := domain.Submission{
			Title:   input.Body.Titulo,
			Content: input.Body.Conteudo,
			Submitter: domain.Submitter{
				Name:  input.Body.ClienteNome,
				Email: input.Body.ClienteEmail,
				Phone: input.Body.ClienteTelefone,
			},
		}
		if err := validate.Submission(sub); err != nil {
			return nil, validationError(err)
		}
		s := h.store.Submit(sub)
		h.logger.Info("script submitted", "script_id", s.ID)
		return h.script(s), nil
	})

	huma.Register(hapi, huma.Operation{
		OperationID: "list-scripts",
		Method:      http.MethodGet,
		Path:        "/roteiros/listar-todos",
		Summary:     "List all scripts",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []api.ScriptResponse `json:"body"`
	}, error) {
		if _, err := principalFromContext(ctx); err != nil {
			return nil, err
		}
		out := &struct {
			Body []api.ScriptResponse `json:"body"`
		}{Body: []api.ScriptResponse{}}
		for _, s := range h.store.List() {
			out.Body = append(out.Body, api.EncodeScript(s, h.statuses))
		}
		return out, nil
	})

	huma.Register(hapi, huma.Operation{
		OperationID: "get-script",
		Method:      http.MethodGet,
		Path:        "/roteiros/{ref}",
		Summary:     "Get a script by id, or the latest submission for an email",
		Errors:      []int{http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Ref string `path:"ref"`
	}) (*scriptOutput, error) {
		if strings.Contains(input.Ref, "@") {
			s, err := h.store.LatestByEmail(input.Ref)
			if err != nil {
				return nil, handleError(err)
			}
			return h.script(s), nil
		}
		id, err := strconv.ParseInt(input.Ref, 10, 64)
		if err != nil || id <= 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "script reference must be an id or an email", nil)
		}
		if _, err := principalFromContext(ctx); err != nil {
			return nil, err
		}
		s, serr := h.store.Script(id)
		if serr != nil {
			return nil, handleError(serr)
		}
		return h.script(s), nil
	})

	huma.Register(hapi, huma.Operation{
		OperationID: "assume-analysis",
		Method:      http.MethodPut,
		Path:        "/roteiros/assumir-analise/{id}/{usuarioId}",
		Summary:     "Claim a script for analysis",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *claimInput) (*scriptOutput, error) {
		if _, err := requireRole(ctx, domain.RoleAnalyst, input.UserID); err != nil {
			return nil, err
		}
		return h.apply(h.store.AssumeAnalysis(input.ID, input.UserID))
	})

	huma.Register(hapi, huma.Operation{
		OperationID: "analyze",
		Method:      http.MethodPut,
		Path:        "/roteiros/analisar/{id}",
		Summary:     "Record the analysis decision",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID     int64 `path:"id"`
		UserID int64 `query:"usuarioId" required:"true"`
		Body   api.AnalysisRequest
	}) (*scriptOutput, error) {
		if _, err := requireRole(ctx, domain.RoleAnalyst, input.UserID); err != nil {
			return nil, err
		}
		if err := validate.Note("justificativa", input.Body.Justificativa); err != nil {
			return nil, validationError(err)
		}
		return h.apply(h.store.Analyze(input.ID, input.UserID, input.Body.Justificativa, input.Body.Apto))
	})

	huma.Register(hapi, huma.Operation{
		OperationID: "assume-review",
		Method:      http.MethodPut,
		Path:        "/roteiros/assumir-revisao/{id}/{usuarioId}",
		Summary:     "Claim a script for review",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *claimInput) (*scriptOutput, error) {
		if _, err := requireRole(ctx, domain.RoleReviewer, input.UserID); err != nil {
			return nil, err
		}
		return h.apply(h.store.AssumeReview(input.ID, input.UserID))
	})

	huma.Register(hapi, huma.Operation{
		OperationID: "review",
		Method:      http.MethodPut,
		Path:        "/roteiros/revisar/{id}",
		Summary:     "Send a reviewed script to approval",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID     int64 `path:"id"`
		UserID int64 `query:"usuarioId" required:"true"`
		Body   api.ReviewRequest
	}) (*scriptOutput, error) {
		if _, err := requireRole(ctx, domain.RoleReviewer, input.UserID); err != nil {
			return nil, err
		}
		return h.apply(h.store.Review(input.ID, input.UserID, input.Body.Observacoes))
	})

	huma.Register(hapi, huma.Operation{
		OperationID: "vote",
		Method:      http.MethodPost,
		Path:        "/roteiros/votar/{id}",
		Summary:     "Cast an approval vote",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID     int64 `path:"id"`
		UserID int64 `query:"usuarioId" required:"true"`
		Body   api.VoteRequest
	}) (*scriptOutput, error) {
		if _, err := requireRole(ctx, domain.RoleApprover, input.UserID); err != nil {
			return nil, err
		}
		if err := validate.Note("justificativa", input.Body.Justificativa); err != nil {
			return nil, validationError(err)
		}
		return h.apply(h.store.Vote(input.ID, input.UserID, input.Body.Aprovado, input.Body.Justificativa))
	})
}

func (h handlers) apply(s domain.Script, err error) (*scriptOutput, error) {
	if err != nil {
		return nil, handleError(err)
	}
	h.logger.Info("script transitioned", "script_id", s.ID, "status", s.Status.String())
	return h.script(s), nil
}
