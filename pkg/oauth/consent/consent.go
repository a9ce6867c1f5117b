package consent

import (
	"context"
	"html/template"
	"net/http"
	"time"

	"github.com/ohmage/ohmage-oauth/pkg/apierrors"
	"github.com/ohmage/ohmage-oauth/pkg/scope"
	"github.com/ohmage/ohmage-oauth/pkg/types"
	"go.uber.org/zap"
)

type Store interface {
	GetCode(ctx context.Context, userID, codeString string) (*types.AuthorizationCode, error)
	GetClient(ctx context.Context, clientID string) (*types.OAuthClient, error)
}

type pageData struct {
	Error  string
	Client *types.OAuthClient
	Scopes scope.Set
	Code   string
	Action string
}

// Handler renders the page where a user grants or denies a client's request
type Handler struct {
	store      Store
	actionPath string
	tmpl       *template.Template
}

// NewHandler creates the consent page handler. The form posts to actionPath.
func NewHandler(store Store, actionPath string) http.Handler {
	return &Handler{
		store:      store,
		actionPath: actionPath,
		tmpl:       template.Must(template.New("consent").Parse(consentPageTemplate)),
	}
}

const consentPageTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>{{if .Client}}Authorize {{.Client.Name}}{{else}}Authorize{{end}}</title>
    <style>
        body {
            font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', sans-serif;
            margin: 0;
            padding: 0;
            min-height: 100vh;
            display: flex;
            align-items: center;
            justify-content: center;
            background: white;
            color: #333;
        }
        .content {
            max-width: 420px;
            line-height: 1.6;
        }
        label {
            display: block;
            margin-top: 8px;
        }
        input[type=email], input[type=password] {
            width: 100%;
            padding: 6px;
        }
        .buttons {
            margin-top: 16px;
        }
    </style>
</head>
<body>
    <div class="content">
        {{if .Error}}
        <p>{{.Error}}</p>
        {{else}}
        <h1>{{.Client.Name}}</h1>
        {{if .Client.Description}}<p>{{.Client.Description}}</p>{{end}}
        <p>This application is requesting access to:</p>
        <ul>
            {{range .Scopes}}<li>{{.Type}} {{.Describe}}</li>{{end}}
        </ul>
        <form method="POST" action="{{.Action}}">
            <input type="hidden" name="code" value="{{.Code}}">
            <label>Email <input type="email" name="email" required></label>
            <label>Password <input type="password" name="password" required></label>
            <div class="buttons">
                <button type="submit" name="granted" value="true">Allow</button>
                <button type="submit" name="granted" value="false">Deny</button>
            </div>
        </form>
        {{end}}
    </div>
</body>
</html>`

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	codeString := r.URL.Query().Get("code")
	if codeString == "" {
		h.render(w, http.StatusBadRequest, pageData{Error: "The code is missing."})
		return
	}

	code, err := h.store.GetCode(r.Context(), "", codeString)
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	if code.IsExpired(time.Now()) {
		h.renderError(w, r, apierrors.InvalidArgument("The authorization code has expired."))
		return
	}
	client, err := h.store.GetClient(r.Context(), code.OAuthClientID)
	if err != nil {
		h.renderError(w, r, err)
		return
	}

	h.render(w, http.StatusOK, pageData{
		Client: client,
		Scopes: code.Scopes.Set(),
		Code:   code.Code,
		Action: h.actionPath,
	})
}

func (h *Handler) renderError(w http.ResponseWriter, r *http.Request, err error) {
	status := apierrors.HTTPStatus(err)
	if status == http.StatusInternalServerError {
		zap.L().Error("Failed to render consent page", zap.String("path", r.URL.Path), zap.Error(err))
	}
	h.render(w, status, pageData{Error: apierrors.Description(err)})
}

func (h *Handler) render(w http.ResponseWriter, status int, data pageData) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := h.tmpl.Execute(w, data); err != nil {
		zap.L().Error("Failed to execute consent template", zap.Error(err))
	}
}
