package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	config "github.com/maheshrc27/postflow/configs"
	"github.com/maheshrc27/postflow/internal/models"
	"github.com/maheshrc27/postflow/internal/transfer"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/facebook"
)

// OAuthToken is a decrypted token pair as returned by a platform.
type OAuthToken struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    *time.Time
}

// AccountProfile is one publishable account behind an authorization. Facebook
// returns one per managed page, each with its own page token.
type AccountProfile struct {
	ExternalID string
	Name       string
	Username   string
	Picture    string
	Token      *OAuthToken
}

type OAuthProvider interface {
	Platform() models.Platform
	AuthURL(state, verifier string) string
	Exchange(ctx context.Context, code, verifier string) (*OAuthToken, error)
	Refresh(ctx context.Context, token *OAuthToken) (*OAuthToken, error)
	Profiles(ctx context.Context, token *OAuthToken) ([]AccountProfile, error)
}

type OAuthProviders map[models.Platform]OAuthProvider

func NewOAuthProviders(cfg config.Config, opts ClientOptions) OAuthProviders {
	return OAuthProviders{
		models.PlatformX:         NewXOAuthProvider(cfg.X, opts),
		models.PlatformPinterest: NewPinterestOAuthProvider(cfg.Pinterest, opts),
		models.PlatformFacebook:  NewFacebookOAuthProvider(cfg.Facebook, opts),
		models.PlatformInstagram: NewInstagramOAuthProvider(cfg.Instagram, opts),
	}
}

func fromOAuth2(tok *oauth2.Token) *OAuthToken {
	out := &OAuthToken{AccessToken: tok.AccessToken, RefreshToken: tok.RefreshToken}
	if !tok.Expiry.IsZero() {
		expiry := tok.Expiry
		out.ExpiresAt = &expiry
	}
	return out
}

func expiresIn(seconds int64) *time.Time {
	if seconds <= 0 {
		return nil
	}
	t := GetExpiresAt(int(seconds))
	return &t
}

// refreshOAuth2 forces a refresh_token grant by handing the token source an expired token.
func refreshOAuth2(ctx context.Context, cfg *oauth2.Config, token *OAuthToken) (*OAuthToken, error) {
	if token.RefreshToken == "" {
		return nil, errors.New("no refresh token stored for account")
	}
	src := cfg.TokenSource(ctx, &oauth2.Token{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		Expiry:       time.Now().Add(-time.Minute),
	})
	tok, err := src.Token()
	if err != nil {
		return nil, err
	}
	return fromOAuth2(tok), nil
}

// X uses OAuth 2.0 with PKCE and rotating refresh tokens.
type xOAuthProvider struct {
	cfg *oauth2.Config
	api *apiClient
}

func NewXOAuthProvider(app config.OAuthApp, opts ClientOptions) OAuthProvider {
	return &xOAuthProvider{
		cfg: &oauth2.Config{
			ClientID:     app.ClientID,
			ClientSecret: app.ClientSecret,
			RedirectURL:  app.RedirectURI,
			Scopes:       []string{"tweet.read", "tweet.write", "users.read", "media.write", "offline.access"},
			Endpoint: oauth2.Endpoint{
				AuthURL:   "https://x.com/i/oauth2/authorize",
				TokenURL:  "https://api.x.com/2/oauth2/token",
				AuthStyle: oauth2.AuthStyleInHeader,
			},
		},
		api: newAPIClient(models.PlatformX, xAPIBaseURL, opts),
	}
}

func (p *xOAuthProvider) Platform() models.Platform {
	return models.PlatformX
}

func (p *xOAuthProvider) AuthURL(state, verifier string) string {
	return p.cfg.AuthCodeURL(state, oauth2.S256ChallengeOption(verifier))
}

func (p *xOAuthProvider) Exchange(ctx context.Context, code, verifier string) (*OAuthToken, error) {
	tok, err := p.cfg.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, fmt.Errorf("x token exchange failed: %w", err)
	}
	return fromOAuth2(tok), nil
}

func (p *xOAuthProvider) Refresh(ctx context.Context, token *OAuthToken) (*OAuthToken, error) {
	return refreshOAuth2(ctx, p.cfg, token)
}

func (p *xOAuthProvider) Profiles(ctx context.Context, token *OAuthToken) ([]AccountProfile, error) {
	var me transfer.XUserResponse
	_, err := p.api.do(ctx, func(r *resty.Request) (*resty.Response, error) {
		return r.SetAuthToken(token.AccessToken).
			SetQueryParam("user.fields", "profile_image_url").
			SetResult(&me).
			Get("/2/users/me")
	})
	if err != nil {
		return nil, err
	}
	return []AccountProfile{{
		ExternalID: me.Data.ID,
		Name:       me.Data.Name,
		Username:   me.Data.Username,
		Picture:    me.Data.ProfileImageURL,
		Token:      token,
	}}, nil
}

type pinterestOAuthProvider struct {
	cfg *oauth2.Config
	api *apiClient
}

func NewPinterestOAuthProvider(app config.OAuthApp, opts ClientOptions) OAuthProvider {
	return &pinterestOAuthProvider{
		cfg: &oauth2.Config{
			ClientID:     app.ClientID,
			ClientSecret: app.ClientSecret,
			RedirectURL:  app.RedirectURI,
			// Pinterest expects a comma separated scope list.
			Scopes: []string{"boards:read,boards:write,pins:read,pins:write,user_accounts:read"},
			Endpoint: oauth2.Endpoint{
				AuthURL:   "https://www.pinterest.com/oauth/",
				TokenURL:  pinterestAPIBaseURL + "/oauth/token",
				AuthStyle: oauth2.AuthStyleInHeader,
			},
		},
		api: newAPIClient(models.PlatformPinterest, pinterestAPIBaseURL, opts),
	}
}

func (p *pinterestOAuthProvider) Platform() models.Platform {
	return models.PlatformPinterest
}

func (p *pinterestOAuthProvider) AuthURL(state, verifier string) string {
	return p.cfg.AuthCodeURL(state)
}

func (p *pinterestOAuthProvider) Exchange(ctx context.Context, code, verifier string) (*OAuthToken, error) {
	tok, err := p.cfg.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("pinterest token exchange failed: %w", err)
	}
	return fromOAuth2(tok), nil
}

func (p *pinterestOAuthProvider) Refresh(ctx context.Context, token *OAuthToken) (*OAuthToken, error) {
	return refreshOAuth2(ctx, p.cfg, token)
}

func (p *pinterestOAuthProvider) Profiles(ctx context.Context, token *OAuthToken) ([]AccountProfile, error) {
	var me transfer.PinterestUserAccount
	_, err := p.api.do(ctx, func(r *resty.Request) (*resty.Response, error) {
		return r.SetAuthToken(token.AccessToken).SetResult(&me).Get("/user_account")
	})
	if err != nil {
		return nil, err
	}
	id := me.ID
	if id == "" {
		id = me.Username
	}
	name := me.BusinessName
	if name == "" {
		name = me.Username
	}
	return []AccountProfile{{
		ExternalID: id,
		Name:       name,
		Username:   me.Username,
		Picture:    me.ProfileImage,
		Token:      token,
	}}, nil
}

// Facebook authorizes a user, whose long lived token is then used to list
// the pages they manage. Page tokens derived from it do not expire.
type facebookOAuthProvider struct {
	app config.OAuthApp
	cfg *oauth2.Config
	api *apiClient
}

func NewFacebookOAuthProvider(app config.OAuthApp, opts ClientOptions) OAuthProvider {
	return &facebookOAuthProvider{
		app: app,
		cfg: &oauth2.Config{
			ClientID:     app.ClientID,
			ClientSecret: app.ClientSecret,
			RedirectURL:  app.RedirectURI,
			Scopes:       []string{"pages_show_list", "pages_manage_posts", "pages_read_engagement"},
			Endpoint:     facebook.Endpoint,
		},
		api: newAPIClient(models.PlatformFacebook, facebookGraphBaseURL, opts),
	}
}

func (p *facebookOAuthProvider) Platform() models.Platform {
	return models.PlatformFacebook
}

func (p *facebookOAuthProvider) AuthURL(state, verifier string) string {
	return p.cfg.AuthCodeURL(state)
}

func (p *facebookOAuthProvider) Exchange(ctx context.Context, code, verifier string) (*OAuthToken, error) {
	tok, err := p.cfg.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("facebook token exchange failed: %w", err)
	}
	return p.longLived(ctx, tok.AccessToken)
}

func (p *facebookOAuthProvider) Refresh(ctx context.Context, token *OAuthToken) (*OAuthToken, error) {
	return p.longLived(ctx, token.AccessToken)
}

func (p *facebookOAuthProvider) longLived(ctx context.Context, accessToken string) (*OAuthToken, error) {
	var out struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	_, err := p.api.do(ctx, func(r *resty.Request) (*resty.Response, error) {
		return r.SetQueryParams(map[string]string{
			"grant_type":        "fb_exchange_token",
			"client_id":         p.app.ClientID,
			"client_secret":     p.app.ClientSecret,
			"fb_exchange_token": accessToken,
		}).SetResult(&out).Get("/oauth/access_token")
	})
	if err != nil {
		return nil, err
	}
	return &OAuthToken{AccessToken: out.AccessToken, ExpiresAt: expiresIn(out.ExpiresIn)}, nil
}

func (p *facebookOAuthProvider) Profiles(ctx context.Context, token *OAuthToken) ([]AccountProfile, error) {
	var profiles []AccountProfile
	after := ""
	for {
		var pages transfer.FacebookPageList
		_, err := p.api.do(ctx, func(r *resty.Request) (*resty.Response, error) {
			r.SetAuthToken(token.AccessToken).
				SetQueryParam("fields", "id,name,access_token,picture").
				SetResult(&pages)
			if after != "" {
				r.SetQueryParam("after", after)
			}
			return r.Get("/me/accounts")
		})
		if err != nil {
			return nil, err
		}

		for _, page := range pages.Data {
			profiles = append(profiles, AccountProfile{
				ExternalID: page.ID,
				Name:       page.Name,
				Username:   page.Name,
				Picture:    page.Picture.Data.URL,
				Token:      &OAuthToken{AccessToken: page.AccessToken},
			})
		}

		after = cursorAfter(pages.Paging.Next)
		if after == "" {
			break
		}
	}

	if len(profiles) == 0 {
		return nil, errors.New("no facebook pages are managed by this user")
	}
	return profiles, nil
}

func cursorAfter(next string) string {
	if next == "" {
		return ""
	}
	i := strings.Index(next, "after=")
	if i < 0 {
		return ""
	}
	v := next[i+len("after="):]
	if j := strings.IndexByte(v, '&'); j >= 0 {
		v = v[:j]
	}
	return v
}

// Instagram Login issues a short lived token that is swapped for a 60 day
// token and extended with ig_refresh_token.
type instagramOAuthProvider struct {
	app   config.OAuthApp
	cfg   *oauth2.Config
	api   *apiClient
	graph *apiClient
}

func NewInstagramOAuthProvider(app config.OAuthApp, opts ClientOptions) OAuthProvider {
	return &instagramOAuthProvider{
		app: app,
		cfg: &oauth2.Config{
			ClientID:     app.ClientID,
			ClientSecret: app.ClientSecret,
			RedirectURL:  app.RedirectURI,
			Scopes:       []string{"instagram_business_basic,instagram_business_content_publish"},
			Endpoint: oauth2.Endpoint{
				AuthURL:   "https://www.instagram.com/oauth/authorize",
				TokenURL:  "https://api.instagram.com/oauth/access_token",
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		api:   newAPIClient(models.PlatformInstagram, "https://api.instagram.com", opts),
		graph: newAPIClient(models.PlatformInstagram, "https://graph.instagram.com", opts),
	}
}

func (p *instagramOAuthProvider) Platform() models.Platform {
	return models.PlatformInstagram
}

func (p *instagramOAuthProvider) AuthURL(state, verifier string) string {
	return p.cfg.AuthCodeURL(state)
}

func (p *instagramOAuthProvider) Exchange(ctx context.Context, code, verifier string) (*OAuthToken, error) {
	var short struct {
		AccessToken string `json:"access_token"`
		Data        []struct {
			AccessToken string `json:"access_token"`
		} `json:"data"`
	}
	_, err := p.api.do(ctx, func(r *resty.Request) (*resty.Response, error) {
		return r.SetFormData(map[string]string{
			"client_id":     p.app.ClientID,
			"client_secret": p.app.ClientSecret,
			"grant_type":    "authorization_code",
			"redirect_uri":  p.app.RedirectURI,
			"code":          code,
		}).SetResult(&short).Post("/oauth/access_token")
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get short-lived token: %w", err)
	}

	shortToken := short.AccessToken
	if shortToken == "" && len(short.Data) > 0 {
		shortToken = short.Data[0].AccessToken
	}
	if shortToken == "" {
		return nil, errors.New("instagram returned no access token")
	}

	return p.longLived(ctx, "/access_token", map[string]string{
		"grant_type":    "ig_exchange_token",
		"client_secret": p.app.ClientSecret,
		"access_token":  shortToken,
	})
}

func (p *instagramOAuthProvider) Refresh(ctx context.Context, token *OAuthToken) (*OAuthToken, error) {
	return p.longLived(ctx, "/refresh_access_token", map[string]string{
		"grant_type":   "ig_refresh_token",
		"access_token": token.AccessToken,
	})
}

func (p *instagramOAuthProvider) longLived(ctx context.Context, path string, params map[string]string) (*OAuthToken, error) {
	var out struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	_, err := p.graph.do(ctx, func(r *resty.Request) (*resty.Response, error) {
		return r.SetQueryParams(params).SetResult(&out).Get(path)
	})
	if err != nil {
		return nil, err
	}
	// The long lived token doubles as the refresh credential.
	return &OAuthToken{
		AccessToken:  out.AccessToken,
		RefreshToken: out.AccessToken,
		ExpiresAt:    expiresIn(out.ExpiresIn),
	}, nil
}

func (p *instagramOAuthProvider) Profiles(ctx context.Context, token *OAuthToken) ([]AccountProfile, error) {
	var me transfer.InstagramUserInfo
	_, err := p.graph.do(ctx, func(r *resty.Request) (*resty.Response, error) {
		return r.SetQueryParam("fields", "user_id,username,name,profile_picture_url").
			SetQueryParam("access_token", token.AccessToken).
			SetResult(&me).
			Get("/" + graphAPIVersion + "/me")
	})
	if err != nil {
		return nil, err
	}
	id := me.UserID
	if id == "" {
		id = me.ID
	}
	return []AccountProfile{{
		ExternalID: id,
		Name:       me.Name,
		Username:   me.Username,
		Picture:    me.ProfilePicture,
		Token:      token,
	}}, nil
}
