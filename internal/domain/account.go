package domain

import "time"

// Account is the mailbox owner and the unit of isolation for all data.
// Created on first authenticated use; the core never mutates it.
type Account struct {
	ID           string    `json:"id" db:"id"`
	OwnerAddress string    `json:"owner_address" db:"owner_address"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}
