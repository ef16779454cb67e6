package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Run against a live api with the accrual processor stopped, otherwise the total grows.

const (
	numUsers       = 50
	numTransfers   = 5000
	maxConcurrency = 100
	initialBalance = "1000.00"
	maxCents       = 50000
	successColor   = "\033[32m"
	errorColor     = "\033[31m"
	infoColor      = "\033[34m"
	resetColor     = "\033[0m"
)

var baseURL = envOr("BASE_URL", "http://localhost:8080")

type user struct {
	ID    int64
	Token string
}

type userResponse struct {
	ID      int64 `json:"id"`
	Account *struct {
		Balance decimal.Decimal `json:"balance"`
	} `json:"account"`
}

func main() {
	runID := time.Now().UnixNano()
	fmt.Printf("%sstarting load test: %d users, %d transfers%s\n", infoColor, numUsers, numTransfers, resetColor)

	users := createUsers(runID, numUsers)
	if len(users) < 2 {
		fmt.Printf("%snot enough users created, aborting%s\n", errorColor, resetColor)
		os.Exit(1)
	}
	fmt.Printf("%screated %d users%s\n", successColor, len(users), resetColor)

	before, err := totalBalance(users)
	if err != nil {
		fmt.Printf("%sfailed to read balances: %v%s\n", errorColor, err, resetColor)
		os.Exit(1)
	}

	sem := make(chan struct{}, maxConcurrency)
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		statuses = map[int]int{}
	)

	start := time.Now()
	for i := 0; i < numTransfers; i++ {
		wg.Add(1)
		sem <- struct{}{}

		go func(n int) {
			defer wg.Done()
			defer func() { <-sem }()

			r := rand.New(rand.NewSource(runID + int64(n)))
			from := users[r.Intn(len(users))]
			to := users[r.Intn(len(users))]
			amount := decimal.New(int64(r.Intn(maxCents)+1), -2)

			status, err := transfer(from, to.ID, amount)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				statuses[-1]++
				if statuses[-1] <= 5 {
					fmt.Printf("%stransfer %d failed: %v%s\n", errorColor, n, err, resetColor)
				}
				return
			}
			statuses[status]++
		}(i)
	}
	wg.Wait()
	duration := time.Since(start)

	fmt.Printf("\n%s=== load test results ===%s\n", infoColor, resetColor)
	for status, count := range statuses {
		fmt.Printf("status %d: %d\n", status, count)
	}
	fmt.Printf("duration: %.2f seconds\n", duration.Seconds())
	fmt.Printf("throughput: %.2f transfers/second\n", float64(numTransfers)/duration.Seconds())

	after, err := totalBalance(users)
	if err != nil {
		fmt.Printf("%sfailed to read balances: %v%s\n", errorColor, err, resetColor)
		os.Exit(1)
	}
	if !after.Equal(before) {
		fmt.Printf("%smoney was not conserved: before %s, after %s%s\n", errorColor, before, after, resetColor)
		os.Exit(1)
	}
	fmt.Printf("%stotal balance conserved: %s%s\n", successColor, after, resetColor)
}

func createUsers(runID int64, count int) []user {
	users := make([]user, 0, count)
	for i := 0; i < count; i++ {
		login := fmt.Sprintf("load-%d-%d", runID, i)
		body := map[string]string{
			"login":           login,
			"password":        "load-password",
			"initial_balance": initialBalance,
			"email":           login + "@load.test",
			"full_name":       "Load User " + login,
			"birth_date":      "1990-01-01",
		}

		var created userResponse
		if _, err := call(http.MethodPost, "/api/users", "", body, http.StatusCreated, &created); err != nil {
			fmt.Printf("%sfailed to create user: %v%s\n", errorColor, err, resetColor)
			continue
		}

		var tok struct {
			JWT string `json:"jwt"`
		}
		auth := map[string]string{"username": login, "password": "load-password"}
		if _, err := call(http.MethodPost, "/api/authenticate", "", auth, http.StatusOK, &tok); err != nil {
			fmt.Printf("%sfailed to authenticate: %v%s\n", errorColor, err, resetColor)
			continue
		}
		users = append(users, user{ID: created.ID, Token: tok.JWT})
	}
	return users
}

// transfer returns the response status. Rejections like insufficient funds are not errors here.
func transfer(from user, toID int64, amount decimal.Decimal) (int, error) {
	body := map[string]interface{}{"to_user_id": toID, "amount": amount}
	return call(http.MethodPost, "/api/users/transfer", from.Token, body, 0, nil)
}

func totalBalance(users []user) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, u := range users {
		var resp userResponse
		if _, err := call(http.MethodGet, fmt.Sprintf("/api/users/%d", u.ID), u.Token, nil, http.StatusOK, &resp); err != nil {
			return decimal.Zero, err
		}
		if resp.Account == nil {
			return decimal.Zero, fmt.Errorf("user %d has no account in response", u.ID)
		}
		total = total.Add(resp.Account.Balance)
	}
	return total, nil
}

// call sends a JSON request. A zero want accepts any status below 500.
func call(method, path, token string, body interface{}, want int, out interface{}) (int, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return 0, err
		}
	}

	req, err := http.NewRequest(method, baseURL+path, &buf)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if (want != 0 && resp.StatusCode != want) || resp.StatusCode >= 500 {
		b, _ := io.ReadAll(resp.Body)
		return resp.StatusCode, fmt.Errorf("%s %s: status %d, body: %s", method, path, resp.StatusCode, string(b))
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
