package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/marcus/offsync/internal/api"
	"github.com/marcus/offsync/internal/models"
	"github.com/marcus/offsync/internal/serverdb"
	"github.com/spf13/pflag"
)

const adminUsage = `Usage: offsync-server admin <command> [flags]

Commands:
  create-user  Register a user
  list-users   List registered users
  create-key   Create an API key for a user
  list-keys    List a user's API keys
  revoke-key   Revoke one of a user's API keys
  put-form     Create or replace a form structure from a JSON file`

var errUsage = errors.New("usage")

func runAdmin(args []string, out io.Writer) error {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, adminUsage)
		return errUsage
	}

	var run func([]string, io.Writer) error
	switch args[0] {
	case "create-user":
		run = runAdminCreateUser
	case "list-users":
		run = runAdminListUsers
	case "create-key":
		run = runAdminCreateKey
	case "list-keys":
		run = runAdminListKeys
	case "revoke-key":
		run = runAdminRevokeKey
	case "put-form":
		run = runAdminPutForm
	default:
		fmt.Fprintln(os.Stderr, adminUsage)
		return fmt.Errorf("unknown admin command: %s", args[0])
	}
	return run(args[1:], out)
}

func newFlagSet(name string) (*pflag.FlagSet, *string) {
	fs := pflag.NewFlagSet("admin "+name, pflag.ContinueOnError)
	dbPath := fs.String("db", "", "path to server.db (default: from OFFSYNC_SERVER_DB_PATH or ./data/server.db)")
	return fs, dbPath
}

func openDB(dbPath string) (*serverdb.ServerDB, error) {
	if dbPath == "" {
		dbPath = api.LoadConfig().ServerDBPath
	}
	store, err := serverdb.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return store, nil
}

func lookupUser(store *serverdb.ServerDB, email string) (*serverdb.User, error) {
	user, err := store.GetUserByEmail(email)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, fmt.Errorf("user not found: %s", strings.ToLower(strings.TrimSpace(email)))
	}
	return user, nil
}

func runAdminCreateUser(args []string, out io.Writer) error {
	fs, dbPath := newFlagSet("create-user")
	email := fs.String("email", "", "user email address")
	screenName := fs.String("screen-name", "", "screen name (default: local part of the email)")
	company := fs.Int64("company", 1, "company id")
	group := fs.Int64("group", 0, "group id (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *email == "" {
		return errors.New("--email is required")
	}
	if *group <= 0 {
		return errors.New("--group is required")
	}

	store, err := openDB(*dbPath)
	if err != nil {
		return err
	}
	defer store.Close()

	user, err := store.CreateUser(*email, *screenName, *company, *group)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "created user %d (%s, group %d)\n", user.ID, user.Email, user.GroupID)
	return nil
}

func runAdminListUsers(args []string, out io.Writer) error {
	fs, dbPath := newFlagSet("list-users")
	if err := fs.Parse(args); err != nil {
		return err
	}
	store, err := openDB(*dbPath)
	if err != nil {
		return err
	}
	defer store.Close()

	users, err := store.ListUsers()
	if err != nil {
		return err
	}
	for _, u := range users {
		fmt.Fprintf(out, "%d\t%s\t%s\tcompany=%d group=%d\n", u.ID, u.Email, u.ScreenName, u.CompanyID, u.GroupID)
	}
	return nil
}

func runAdminCreateKey(args []string, out io.Writer) error {
	fs, dbPath := newFlagSet("create-key")
	email := fs.String("email", "", "user email address")
	name := fs.String("name", "", "key name (e.g. field-tablet)")
	expires := fs.Duration("expires", 0, "key lifetime (e.g. 720h); zero never expires")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *email == "" {
		return errors.New("--email is required")
	}
	if *name == "" {
		return errors.New("--name is required")
	}

	store, err := openDB(*dbPath)
	if err != nil {
		return err
	}
	defer store.Close()

	user, err := lookupUser(store, *email)
	if err != nil {
		return err
	}

	var expiresAt *time.Time
	if *expires > 0 {
		t := time.Now().Add(*expires)
		expiresAt = &t
	}
	plaintext, key, err := store.GenerateAPIKey(user.ID, *name, expiresAt)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "created key %s for %s\n", key.ID, user.Email)
	fmt.Fprintln(out, plaintext)
	return nil
}

func runAdminListKeys(args []string, out io.Writer) error {
	fs, dbPath := newFlagSet("list-keys")
	email := fs.String("email", "", "user email address")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *email == "" {
		return errors.New("--email is required")
	}

	store, err := openDB(*dbPath)
	if err != nil {
		return err
	}
	defer store.Close()

	user, err := lookupUser(store, *email)
	if err != nil {
		return err
	}
	keys, err := store.ListAPIKeys(user.ID)
	if err != nil {
		return err
	}
	now := time.Now()
	for _, k := range keys {
		state := "active"
		switch {
		case k.Expired(now):
			state = "expired"
		case k.LastUsedAt != nil:
			state = "used " + k.LastUsedAt.Local().Format(time.DateTime)
		}
		fmt.Fprintf(out, "%s\t%s\t%s...\t%s\n", k.ID, k.Name, k.KeyPrefix, state)
	}
	return nil
}

func runAdminRevokeKey(args []string, out io.Writer) error {
	fs, dbPath := newFlagSet("revoke-key")
	email := fs.String("email", "", "user email address")
	id := fs.String("id", "", "key id (ak_...)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *email == "" || *id == "" {
		return errors.New("--email and --id are required")
	}

	store, err := openDB(*dbPath)
	if err != nil {
		return err
	}
	defer store.Close()

	user, err := lookupUser(store, *email)
	if err != nil {
		return err
	}
	if err := store.RevokeAPIKey(*id, user.ID); err != nil {
		return err
	}
	fmt.Fprintf(out, "revoked key %s\n", *id)
	return nil
}

func runAdminPutForm(args []string, out io.Writer) error {
	fs, dbPath := newFlagSet("put-form")
	file := fs.String("file", "", "form JSON: {\"structureId\":1,\"name\":\"...\",\"fields\":[...]}")
	email := fs.String("email", "", "owner email address (optional)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *file == "" {
		return errors.New("--file is required")
	}

	data, err := os.ReadFile(*file)
	if err != nil {
		return fmt.Errorf("read form: %w", err)
	}
	var form models.Form
	if err := json.Unmarshal(data, &form); err != nil {
		return fmt.Errorf("parse form: %w", err)
	}
	if form.StructureID <= 0 || form.Name == "" {
		return errors.New("form needs structureId and name")
	}
	fields, err := json.Marshal(form.Fields)
	if err != nil {
		return fmt.Errorf("encode fields: %w", err)
	}

	store, err := openDB(*dbPath)
	if err != nil {
		return err
	}
	defer store.Close()

	f := &serverdb.Form{StructureID: form.StructureID, Name: form.Name, Fields: fields}
	if *email != "" {
		user, err := lookupUser(store, *email)
		if err != nil {
			return err
		}
		f.UserID = user.ID
	}
	if err := store.PutForm(f); err != nil {
		return err
	}
	fmt.Fprintf(out, "stored form %d (%s, %d fields)\n", form.StructureID, form.Name, len(form.Fields))
	return nil
}
