package session

import (
	"time"

	paseto "aidanwoods.dev/go-paseto"
)

// Claims is the identity envelope carried by a session token.
type Claims struct {
	Username  string
	SessionID string
	Roles     []string
	Platform  string
	ExpiresAt time.Time
	IssuedAt  time.Time
	Issuer    string
}

type pasetoV4PublicManager struct {
	issuer    string
	ttl       time.Duration
	clockSkew time.Duration

	secret paseto.V4AsymmetricSecretKey
	public paseto.V4AsymmetricPublicKey
}

// newPasetoV4PublicManager builds the token signer/verifier used for
// session tokens (PASETO v4.public, Ed25519).
//
// With no configured key, an ephemeral one is generated; tokens then share
// the process-scoped lifetime of the registry itself.
func newPasetoV4PublicManager(cfg Config) (*pasetoV4PublicManager, error) {
	var secret paseto.V4AsymmetricSecretKey

	if cfg.PasetoV4SecretKeyHex == "" {
		secret = paseto.NewV4AsymmetricSecretKey()
	} else {
		parsed, err := paseto.NewV4AsymmetricSecretKeyFromHex(cfg.PasetoV4SecretKeyHex)
		if err != nil {
			return nil, ErrConfig
		}
		secret = parsed
	}

	return &pasetoV4PublicManager{
		issuer:    cfg.Issuer,
		ttl:       cfg.SessionTTL,
		clockSkew: cfg.ClockSkew,
		secret:    secret,
		public:    secret.Public(),
	}, nil
}

func (m *pasetoV4PublicManager) PublicKeyHex() string {
	return m.public.ExportHex()
}

func (m *pasetoV4PublicManager) Issue(username, sessionID string, roles []string, platform string, now time.Time) (string, time.Time, error) {
	exp := now.Add(m.ttl)

	tok := paseto.NewToken()
	tok.SetIssuer(m.issuer)
	tok.SetSubject(username)
	tok.SetIssuedAt(now)
	tok.SetNotBefore(now)
	tok.SetExpiration(exp)

	_ = tok.Set("sid", sessionID)
	_ = tok.Set("roles", roles)
	_ = tok.Set("platform", platform)

	return tok.V4Sign(m.secret, nil), exp, nil
}

func (m *pasetoV4PublicManager) Verify(token string, now time.Time) (Claims, error) {
	// Validate slightly in the future to tolerate "nbf" clock differences;
	// this also makes expiration checks slightly stricter.
	validNow := now.Add(m.clockSkew)

	parser := paseto.NewParser()
	parser.AddRule(paseto.IssuedBy(m.issuer))
	parser.AddRule(paseto.ValidAt(validNow))

	parsed, err := parser.ParseV4Public(m.public, token, nil)
	if err != nil {
		return Claims{}, ErrInvalidToken
	}

	sub, err := parsed.GetSubject()
	if err != nil || sub == "" {
		return Claims{}, ErrInvalidToken
	}

	var sid string
	if err := parsed.Get("sid", &sid); err != nil || sid == "" {
		return Claims{}, ErrInvalidToken
	}

	var roles []string
	_ = parsed.Get("roles", &roles)
	var platform string
	_ = parsed.Get("platform", &platform)

	exp, err := parsed.GetExpiration()
	if err != nil {
		return Claims{}, ErrInvalidToken
	}
	iat, err := parsed.GetIssuedAt()
	if err != nil {
		return Claims{}, ErrInvalidToken
	}

	return Claims{
		Username:  sub,
		SessionID: sid,
		Roles:     roles,
		Platform:  platform,
		ExpiresAt: exp,
		IssuedAt:  iat,
		Issuer:    m.issuer,
	}, nil
}
