// Package guard provides ready-made lifecycle hooks that reject requests
// before they reach a handler: bearer token authentication and per-key rate
// limiting.
package guard

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bjaus/gateway"
	"github.com/golang-jwt/jwt/v5"
)

// KeyAuthorization is the error key of authentication failures.
const KeyAuthorization = "authorization"

type claimsKey struct{}

// ClaimsFromContext returns the claims of the request's verified token.
func ClaimsFromContext(ctx context.Context) (jwt.MapClaims, bool) {
	c, ok := ctx.Value(claimsKey{}).(jwt.MapClaims)
	return c, ok
}

type tokenErrKey struct{}

// JWT authenticates requests carrying an "Authorization: Bearer <token>"
// header.
//
// The token is verified when the request enters the router so handlers can
// read its claims with ClaimsFromContext. Rejection happens in the withAuth
// stage, which means unknown routes still answer 404 and unserved verbs 403
// before credentials are looked at.
//
// Example:
//
//	auth := guard.NewJWT(guard.HMACKey(secret),
//	    guard.WithIssuer("https://auth.example.com"),
//	    guard.WithPublic("health"),
//	)
//	r := gateway.New(cfg, auth.Options()...)
type JWT struct {
	keyFunc jwt.Keyfunc
	methods []string
	header  string
	public  map[string]bool
	parser  []jwt.ParserOption
}

// JWTOption configures a JWT guard.
type JWTOption func(*JWT)

// HMACKey returns a key function accepting tokens signed with secret.
func HMACKey(secret []byte) jwt.Keyfunc {
	return func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenSignatureInvalid
		}
		return secret, nil
	}
}

// WithValidMethods restricts the accepted signing algorithms. The default is
// HS256.
func WithValidMethods(methods ...string) JWTOption {
	return func(j *JWT) {
		j.methods = methods
	}
}

// WithHeader reads the token from another header.
func WithHeader(name string) JWTOption {
	return func(j *JWT) {
		j.header = strings.ToLower(name)
	}
}

// WithIssuer requires the iss claim.
func WithIssuer(iss string) JWTOption {
	return func(j *JWT) {
		j.parser = append(j.parser, jwt.WithIssuer(iss))
	}
}

// WithAudience requires the aud claim to contain aud.
func WithAudience(aud string) JWTOption {
	return func(j *JWT) {
		j.parser = append(j.parser, jwt.WithAudience(aud))
	}
}

// WithLeeway tolerates clock skew when checking exp, nbf and iat.
func WithLeeway(d time.Duration) JWTOption {
	return func(j *JWT) {
		j.parser = append(j.parser, jwt.WithLeeway(d))
	}
}

// WithPublic lets the given handler module paths through without a token.
func WithPublic(handlers ...string) JWTOption {
	return func(j *JWT) {
		for _, h := range handlers {
			j.public[strings.Trim(h, "/")] = true
		}
	}
}

// NewJWT returns a JWT guard verifying signatures with keyFunc.
func NewJWT(keyFunc jwt.Keyfunc, opts ...JWTOption) *JWT {
	j := &JWT{
		keyFunc: keyFunc,
		methods: []string{jwt.SigningMethodHS256.Alg()},
		header:  "authorization",
		public:  map[string]bool{},
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// Options returns the router options installing the guard. The withAuth
// hook slot is taken; use Hook with Chain to combine it with other checks.
func (j *JWT) Options() []gateway.Option {
	return []gateway.Option{
		gateway.WithOnReceive(j.OnReceive),
		gateway.WithAuth(j.Hook),
	}
}

// OnReceive verifies the request's token, if any, and stores the outcome in
// the context.
func (j *JWT) OnReceive(ctx context.Context, req *gateway.Request) context.Context {
	raw, ok := bearer(req.Headers[j.header])
	if !ok {
		return ctx
	}
	opts := append([]jwt.ParserOption{jwt.WithValidMethods(j.methods)}, j.parser...)
	token, err := jwt.Parse(raw, j.keyFunc, opts...)
	if err != nil {
		return context.WithValue(ctx, tokenErrKey{}, err)
	}
	claims, _ := token.Claims.(jwt.MapClaims)
	return context.WithValue(ctx, claimsKey{}, claims)
}

// Hook rejects the request with a 401 unless OnReceive verified its token or
// the handler is public.
func (j *JWT) Hook(ctx context.Context, req *gateway.Request, res *gateway.Response) error {
	if j.public[req.Handler] {
		return nil
	}
	if _, ok := ClaimsFromContext(ctx); ok {
		return nil
	}
	msg := "missing bearer token"
	if err, ok := ctx.Value(tokenErrKey{}).(error); ok {
		msg = tokenMessage(err)
	}
	res.Fail(gateway.NewError(401, KeyAuthorization, msg))
	return nil
}

func bearer(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func tokenMessage(err error) string {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return "token has expired"
	case errors.Is(err, jwt.ErrTokenNotValidYet):
		return "token is not valid yet"
	case errors.Is(err, jwt.ErrTokenInvalidIssuer), errors.Is(err, jwt.ErrTokenInvalidAudience):
		return "token was not issued for this service"
	default:
		return "invalid token"
	}
}
