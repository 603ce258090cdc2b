package auth

import (
	stderrors "errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"grcgateway/internal/config"
	"grcgateway/internal/core"
	"grcgateway/pkg/errors"
)

// Identity headers injected into forwarded requests. Upstream services
// treat these as advisory; they remain responsible for their own
// authorization.
const (
	HeaderUserID         = "X-User-ID"
	HeaderUserEmail      = "X-User-Email"
	HeaderUserRole       = "X-User-Role"
	HeaderOrganizationID = "X-Organization-ID"
)

// Propagator validates inbound bearer tokens and injects the resolved
// identity as outbound headers.
type Propagator struct {
	config *config.Auth
	key    any
	parser *jwt.Parser
	logger *slog.Logger
}

// NewPropagator creates a propagator from auth configuration.
func NewPropagator(cfg *config.Auth, logger *slog.Logger) (*Propagator, error) {
	if cfg.SigningMethod == "" {
		cfg.SigningMethod = "HS256"
	}
	if cfg.UserIDClaim == "" {
		cfg.UserIDClaim = "sub"
	}
	if cfg.EmailClaim == "" {
		cfg.EmailClaim = "email"
	}
	if cfg.RoleClaim == "" {
		cfg.RoleClaim = "role"
	}
	if cfg.OrganizationClaim == "" {
		cfg.OrganizationClaim = "org_id"
	}

	p := &Propagator{
		config: cfg,
		parser: jwt.NewParser(jwt.WithValidMethods([]string{cfg.SigningMethod})),
		logger: logger.With("component", "auth"),
	}

	switch {
	case strings.HasPrefix(cfg.SigningMethod, "RS"):
		if cfg.PublicKey == "" {
			return nil, errors.NewError(errors.ErrorTypeInternal, "RSA signing requires publicKey")
		}
		key, err := jwt.ParseRSAPublicKeyFromPEM([]byte(cfg.PublicKey))
		if err != nil {
			return nil, errors.NewError(errors.ErrorTypeInternal, "failed to parse RSA public key").WithCause(err)
		}
		p.key = key

	case strings.HasPrefix(cfg.SigningMethod, "HS"):
		if cfg.Secret == "" {
			return nil, errors.NewError(errors.ErrorTypeInternal, "HMAC signing requires secret")
		}
		p.key = []byte(cfg.Secret)

	default:
		return nil, errors.NewError(errors.ErrorTypeInternal, "unsupported signing method: "+cfg.SigningMethod)
	}

	return p, nil
}

// Authenticate resolves the caller identity from the Authorization
// header. Failures carry one of the MISSING, MALFORMED, EXPIRED or
// INVALID_SIGNATURE reasons.
func (p *Propagator) Authenticate(headers http.Header) (*core.Identity, error) {
	raw := headers.Get("Authorization")
	if raw == "" {
		return nil, errors.NewAuthError(errors.AuthReasonMissing, "missing authorization header")
	}

	parts := strings.SplitN(raw, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return nil, errors.NewAuthError(errors.AuthReasonMalformed, "authorization header is not a bearer token")
	}
	tokenString := strings.TrimSpace(parts[1])
	if tokenString == "" {
		return nil, errors.NewAuthError(errors.AuthReasonMalformed, "empty bearer token")
	}

	token, err := p.parser.Parse(tokenString, p.keyFunc)
	if err != nil {
		return nil, p.classifyParseError(err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errors.NewAuthError(errors.AuthReasonMalformed, "unexpected token claims")
	}

	if p.config.Issuer != "" {
		issuer, _ := claims["iss"].(string)
		if issuer != p.config.Issuer {
			return nil, errors.NewAuthError(errors.AuthReasonInvalidSignature, "token issued by untrusted issuer").
				WithDetail("issuer", issuer)
		}
	}

	identity := &core.Identity{
		UserID:         stringClaim(claims, p.config.UserIDClaim),
		Email:          stringClaim(claims, p.config.EmailClaim),
		Role:           stringClaim(claims, p.config.RoleClaim),
		OrganizationID: stringClaim(claims, p.config.OrganizationClaim),
	}

	if identity.UserID == "" {
		return nil, errors.NewAuthError(errors.AuthReasonMalformed, "token has no subject claim")
	}

	return identity, nil
}

// Inject writes the resolved identity into the outbound headers and,
// when configured, strips the original Authorization header.
func (p *Propagator) Inject(identity *core.Identity, outbound http.Header) {
	outbound.Set(HeaderUserID, identity.UserID)
	if identity.Email != "" {
		outbound.Set(HeaderUserEmail, identity.Email)
	}
	if identity.Role != "" {
		outbound.Set(HeaderUserRole, identity.Role)
	}
	if identity.OrganizationID != "" {
		outbound.Set(HeaderOrganizationID, identity.OrganizationID)
	}

	if p.config.StripAuthorization {
		outbound.Del("Authorization")
	}
}

func (p *Propagator) keyFunc(token *jwt.Token) (any, error) {
	return p.key, nil
}

// classifyParseError maps jwt library errors onto the auth failure
// taxonomy.
func (p *Propagator) classifyParseError(err error) error {
	switch {
	case stderrors.Is(err, jwt.ErrTokenExpired):
		return errors.NewAuthError(errors.AuthReasonExpired, "token has expired").WithCause(err)
	case stderrors.Is(err, jwt.ErrTokenSignatureInvalid),
		stderrors.Is(err, jwt.ErrTokenUnverifiable):
		return errors.NewAuthError(errors.AuthReasonInvalidSignature, "token signature could not be verified").WithCause(err)
	case stderrors.Is(err, jwt.ErrTokenMalformed):
		return errors.NewAuthError(errors.AuthReasonMalformed, "token is malformed").WithCause(err)
	default:
		return errors.NewAuthError(errors.AuthReasonMalformed, "token validation failed").WithCause(err)
	}
}

func stringClaim(claims jwt.MapClaims, name string) string {
	value, _ := claims[name].(string)
	return value
}
