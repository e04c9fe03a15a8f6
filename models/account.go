package models

import "time"

// Account — запись реестра авторизованных аккаунтов.
// Телефон уникален, после создания запись не меняется.
type Account struct {
	Phone       string    `json:"phone" db:"phone"`
	ApiID       int       `json:"api_id" db:"api_id"`
	ApiHash     string    `json:"api_hash" db:"api_hash"`
	SessionName string    `json:"session_name" db:"session_name"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// Masked возвращает копию аккаунта без секрета, пригодную для вывода наружу.
func (a Account) Masked() Account {
	if len(a.ApiHash) > 4 {
		a.ApiHash = a.ApiHash[:4] + "****"
	} else if a.ApiHash != "" {
		a.ApiHash = "****"
	}
	return a
}
