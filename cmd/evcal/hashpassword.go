package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/term"
)

// hashPassword prints a bcrypt hash for basic_auth.password_hash.
func hashPassword(args []string) int {
	fs := flag.NewFlagSet("hash-password", flag.ExitOnError)
	cost := fs.Int("cost", bcrypt.DefaultCost, "bcrypt cost")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: evcal hash-password [OPTIONS]\n\n")
		fmt.Fprintf(os.Stderr, "Prints a bcrypt hash for basic_auth.password_hash.\n\n")
		fs.PrintDefaults()
	}
	_ = fs.Parse(args)

	password, err := readPassword(os.Stdin, "Enter password:   ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading password: %v\n", err)
		return 1
	}
	confirm, err := readPassword(os.Stdin, "Confirm password: ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading password confirmation: %v\n", err)
		return 1
	}
	hash, err := hashFor(password, confirm, *cost)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	fmt.Println(hash)
	return 0
}

func hashFor(password, confirm string, cost int) (string, error) {
	if password == "" {
		return "", errors.New("password cannot be empty")
	}
	if password != confirm {
		return "", errors.New("passwords do not match")
	}
	b, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// readPassword reads without echo from a terminal, or one line from a pipe.
func readPassword(f *os.File, prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	fd := int(f.Fd())
	if term.IsTerminal(fd) {
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		return string(b), err
	}
	var line string
	if _, err := fmt.Fscanln(f, &line); err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return line, nil
}
