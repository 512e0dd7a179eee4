package accounts

import (
	"context"
	"fmt"
	"io"

	"signalbridge/src/model"
)

type accountStore interface {
	Create(ctx context.Context, account *model.BrokerAccount) error
	SetActive(ctx context.Context, id uint, active bool) error
}

type encrypter interface {
	EncryptString(s string) (string, error)
}

// Accounts registers broker logins. Passwords go through the vault before they
// reach the store.
type Accounts struct {
	Store accountStore
	Vault encrypter
	Out   io.Writer
}

type AddInput struct {
	UserID   uint
	Name     string
	Server   string
	Login    int64
	Password string
}

func (a *Accounts) Add(ctx context.Context, in AddInput) error {
	if in.UserID == 0 || in.Login == 0 || in.Server == "" {
		return fmt.Errorf("user, login and server are required")
	}
	if in.Password == "" {
		return fmt.Errorf("password is required")
	}

	encrypted, err := a.Vault.EncryptString(in.Password)
	if err != nil {
		return fmt.Errorf("encrypt credential: %w", err)
	}

	account := &model.BrokerAccount{
		UserID:              in.UserID,
		AccountName:         in.Name,
		Server:              in.Server,
		Login:               in.Login,
		EncryptedCredential: encrypted,
		IsActive:            true,
	}
	if account.AccountName == "" {
		account.AccountName = "Default"
	}
	if err := a.Store.Create(ctx, account); err != nil {
		return err
	}

	_, err = fmt.Fprintf(a.Out, "account_id=%d user_id=%d login=%d\n", account.ID, account.UserID, account.Login)
	return err
}

func (a *Accounts) SetActive(ctx context.Context, id uint, active bool) error {
	if err := a.Store.SetActive(ctx, id, active); err != nil {
		return err
	}
	_, err := fmt.Fprintf(a.Out, "account_id=%d active=%t\n", id, active)
	return err
}
