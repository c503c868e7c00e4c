package core

type (
	Theme    string
	FontSize string

	// Preferences are the user's display and behaviour settings.
	Preferences struct {
		Theme         Theme    `json:"theme"`
		Currency      string   `json:"currency"`
		Notifications bool     `json:"notifications"`
		FontSize      FontSize `json:"fontSize"`
		ColorScheme   string   `json:"colorScheme"`
		BiometricAuth bool     `json:"biometricAuth"`
	}

	// PreferencesPatch carries a partial update; nil fields are left alone.
	PreferencesPatch struct {
		Theme         *Theme    `json:"theme,omitempty"`
		Currency      *string   `json:"currency,omitempty"`
		Notifications *bool     `json:"notifications,omitempty"`
		FontSize      *FontSize `json:"fontSize,omitempty"`
		ColorScheme   *string   `json:"colorScheme,omitempty"`
		BiometricAuth *bool     `json:"biometricAuth,omitempty"`
	}
)

const (
	ThemeLight  Theme = "light"
	ThemeDark   Theme = "dark"
	ThemeSystem Theme = "system"

	FontSmall  FontSize = "small"
	FontMedium FontSize = "medium"
	FontLarge  FontSize = "large"
)

func DefaultPreferences() Preferences {
	return Preferences{
		Theme:         ThemeSystem,
		Currency:      "NGN",
		Notifications: true,
		FontSize:      FontMedium,
		ColorScheme:   "default",
		BiometricAuth: false,
	}
}

// Merge returns p with every non-nil field of patch applied.
func (p Preferences) Merge(patch PreferencesPatch) Preferences {
	if patch.Theme != nil {
		p.Theme = *patch.Theme
	}
	if patch.Currency != nil {
		p.Currency = *patch.Currency
	}
	if patch.Notifications != nil {
		p.Notifications = *patch.Notifications
	}
	if patch.FontSize != nil {
		p.FontSize = *patch.FontSize
	}
	if patch.ColorScheme != nil {
		p.ColorScheme = *patch.ColorScheme
	}
	if patch.BiometricAuth != nil {
		p.BiometricAuth = *patch.BiometricAuth
	}
	return p
}

// Empty reports whether the patch changes nothing.
func (p PreferencesPatch) Empty() bool {
	return p.Theme == nil && p.Currency == nil && p.Notifications == nil &&
		p.FontSize == nil && p.ColorScheme == nil && p.BiometricAuth == nil
}
