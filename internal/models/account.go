package models

import (
	"fmt"
	"time"
)

type Account struct {
	ID               int64     `json:"id"`
	WalletAddress    string    `json:"wallet_address"`
	Username         string    `json:"username"`
	Email            string    `json:"email"`
	TelegramUsername *string   `json:"telegram_username"`
	TelegramID       *int64    `json:"telegram_id"`
	ProfilePhotoURL  *string   `json:"profile_photo_url"`
	PhoneCountryCode *string   `json:"phone_country_code"`
	PhoneNumber      *string   `json:"phone_number"`
	AvailableFrom    *string   `json:"available_from"`
	AvailableTo      *string   `json:"available_to"`
	Timezone         *string   `json:"timezone"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// DisplayName is the username, or the wallet address when no username is set.
func (a *Account) DisplayName() string {
	if a.Username != "" {
		return a.Username
	}
	return a.WalletAddress
}

// FallbackName is shown when an account cannot be fetched.
func FallbackName(id int64) string {
	return fmt.Sprintf("User #%d", id)
}

// AccountInput is the request body for account create/update.
type AccountInput struct {
	WalletAddress    *string `json:"wallet_address,omitempty"`
	Username         *string `json:"username,omitempty"`
	Email            *string `json:"email,omitempty"`
	TelegramUsername *string `json:"telegram_username,omitempty"`
	TelegramID       *int64  `json:"telegram_id,omitempty"`
	ProfilePhotoURL  *string `json:"profile_photo_url,omitempty"`
	PhoneCountryCode *string `json:"phone_country_code,omitempty"`
	PhoneNumber      *string `json:"phone_number,omitempty"`
	AvailableFrom    *string `json:"available_from,omitempty"`
	AvailableTo      *string `json:"available_to,omitempty"`
	Timezone         *string `json:"timezone,omitempty"`
}

// IDResponse is the body returned by create/update endpoints.
type IDResponse struct {
	ID int64 `json:"id"`
}

type MessageResponse struct {
	Message string `json:"message"`
}
