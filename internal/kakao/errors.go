package kakao

import "errors"

var (
	// ErrExchangeFailed indicates the token endpoint rejected a grant or the call itself failed.
	ErrExchangeFailed = errors.New("kakao.exchange_failed")
	// ErrProfileFailed indicates the user-info endpoint rejected the token or the call itself failed.
	ErrProfileFailed = errors.New("kakao.profile_failed")
)
