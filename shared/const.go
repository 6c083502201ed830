package shared

const (
	UserID    = "user_id"
	UserEmail = "user_email"
	UserName  = "user_name"
	TokenJTI  = "token_jti"
	TokenExp  = "token_exp"

	SessionCookie = "hanmadi_session"

	LanguageKorean  = "ko"
	LanguageEnglish = "en"

	SpeechLevelBanmal = "banmal"
	SpeechLevelHaeyo  = "haeyo"
	SpeechLevelHapsyo = "hapsyo"
)
