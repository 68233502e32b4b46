//go:build ignore

// Печатает строку ADMIN_PASSWORD_HASH=... для .env.
//
//	go run scripts/generate_hash.go 'пароль'
//	echo 'пароль' | go run scripts/generate_hash.go
package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"serotonyl.ru/escrow-bot/internal/features/admin"
)

func main() {
	password, err := readPassword()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	hash, err := admin.NewPasswordHash(password)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Не удалось построить хеш:", err)
		os.Exit(1)
	}
	fmt.Printf("ADMIN_PASSWORD_HASH=%s\n", hash)
}

// readPassword берёт пароль из аргумента, иначе из первой строки stdin,
// чтобы он не оседал в истории shell.
func readPassword() (string, error) {
	if len(os.Args) > 1 {
		return os.Args[1], nil
	}
	line, _ := bufio.NewReader(os.Stdin).ReadString('\n')
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", errors.New("пароль не передан: go run scripts/generate_hash.go <пароль> или через stdin")
	}
	return line, nil
}
