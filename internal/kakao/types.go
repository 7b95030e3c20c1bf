package kakao

import (
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/oauth2"
)

// TokenSet mirrors the Kakao token endpoint response. RefreshToken is empty
// when the provider withheld it; json omitempty keeps proxy responses faithful.
type TokenSet struct {
	AccessToken           string `json:"access_token"`
	TokenType             string `json:"token_type,omitempty"`
	RefreshToken          string `json:"refresh_token,omitempty"`
	ExpiresIn             int64  `json:"expires_in,omitempty"`
	RefreshTokenExpiresIn int64  `json:"refresh_token_expires_in,omitempty"`
	Scope                 string `json:"scope,omitempty"`
}

// Profile is the provider identity extracted from the user-info endpoint.
// Raw keeps the untouched response for the proxy route.
type Profile struct {
	ID             string         `json:"id"`
	Nickname       string         `json:"nickname"`
	ProfileImage   string         `json:"profile_image,omitempty"`
	ThumbnailImage string         `json:"thumbnail_image,omitempty"`
	Raw            map[string]any `json:"-"`
}

func tokenSetFromOAuth2(token *oauth2.Token) TokenSet {
	tokens := TokenSet{
		AccessToken:           token.AccessToken,
		TokenType:             token.TokenType,
		RefreshToken:          token.RefreshToken,
		ExpiresIn:             extraInt64(token, "expires_in"),
		RefreshTokenExpiresIn: extraInt64(token, "refresh_token_expires_in"),
		Scope:                 extraString(token, "scope"),
	}
	if tokens.ExpiresIn == 0 && !token.Expiry.IsZero() {
		tokens.ExpiresIn = int64(time.Until(token.Expiry).Seconds())
	}
	return tokens
}

func extraInt64(token *oauth2.Token, key string) int64 {
	switch value := token.Extra(key).(type) {
	case float64:
		return int64(value)
	case int64:
		return value
	case json.Number:
		parsed, _ := value.Int64()
		return parsed
	default:
		return 0
	}
}

func extraString(token *oauth2.Token, key string) string {
	value, _ := token.Extra(key).(string)
	return value
}

func parseProfile(body []byte) (Profile, error) {
	var decoded struct {
		ID         json.Number `json:"id"`
		Properties struct {
			Nickname       string `json:"nickname"`
			ProfileImage   string `json:"profile_image"`
			ThumbnailImage string `json:"thumbnail_image"`
		} `json:"properties"`
		KakaoAccount struct {
			Profile struct {
				Nickname          string `json:"nickname"`
				ProfileImageURL   string `json:"profile_image_url"`
				ThumbnailImageURL string `json:"thumbnail_image_url"`
			} `json:"profile"`
		} `json:"kakao_account"`
	}
	if unmarshalErr := json.Unmarshal(body, &decoded); unmarshalErr != nil {
		return Profile{}, fmt.Errorf("kakao.profile.decode: %w: %v", ErrProfileFailed, unmarshalErr)
	}
	if decoded.ID.String() == "" {
		return Profile{}, fmt.Errorf("kakao.profile.missing_id: %w", ErrProfileFailed)
	}

	profile := Profile{
		ID:             decoded.ID.String(),
		Nickname:       decoded.Properties.Nickname,
		ProfileImage:   decoded.Properties.ProfileImage,
		ThumbnailImage: decoded.Properties.ThumbnailImage,
	}
	if profile.Nickname == "" {
		profile.Nickname = decoded.KakaoAccount.Profile.Nickname
	}
	if profile.ProfileImage == "" {
		profile.ProfileImage = decoded.KakaoAccount.Profile.ProfileImageURL
	}
	if profile.ThumbnailImage == "" {
		profile.ThumbnailImage = decoded.KakaoAccount.Profile.ThumbnailImageURL
	}

	var raw map[string]any
	if unmarshalErr := json.Unmarshal(body, &raw); unmarshalErr == nil {
		profile.Raw = raw
	}
	return profile, nil
}
