package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type envelope struct {
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type product struct {
	ID    string `json:"id"`
	Stock int    `json:"stock"`
}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "cart service base URL")
	initialStock := flag.Int("stock", 20, "stock of the contested product")
	totalRequests := flag.Int("buyers", 50, "concurrent buyers, one unit each")
	flag.Parse()

	log, _ := zap.NewDevelopment()
	defer log.Sync()

	client := &http.Client{Timeout: 30 * time.Second}

	// Create the contested product
	var created product
	status, err := call(client, http.MethodPost, *baseURL+"/api/products", map[string]interface{}{
		"name":  fmt.Sprintf("stress-item-%d", time.Now().UnixNano()),
		"price": "9.99",
		"stock": *initialStock,
	}, &created)
	if err != nil || status != http.StatusCreated {
		log.Fatal("failed to create product", zap.Int("status", status), zap.Error(err))
	}

	// Fill every buyer's cart before the race starts
	runID := time.Now().UnixNano()
	userID := func(i int) string { return fmt.Sprintf("stress-%d-user-%d", runID, i) }

	var g errgroup.Group
	g.SetLimit(20)
	for i := 0; i < *totalRequests; i++ {
		g.Go(func() error {
			status, err := call(client, http.MethodPost, *baseURL+"/api/carts", map[string]interface{}{
				"userId":    userID(i),
				"productId": created.ID,
				"quantity":  1,
			}, nil)
			if err != nil {
				return err
			}
			if status != http.StatusCreated {
				return fmt.Errorf("add to cart for %s: status %d", userID(i), status)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		log.Fatal("failed to fill carts", zap.Error(err))
	}

	// Counters
	var successCount, soldOutCount, busyCount, otherCount atomic.Int32

	// Spawn concurrent checkouts
	var wg sync.WaitGroup
	start := time.Now()

	for i := 0; i < *totalRequests; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()

			status, err := call(client, http.MethodPost, *baseURL+"/api/carts/checkout", map[string]string{"userId": userID(i)}, nil)
			switch {
			case err != nil:
				otherCount.Add(1)
			case status == http.StatusOK:
				successCount.Add(1)
			case status == http.StatusBadRequest:
				soldOutCount.Add(1)
			case status == http.StatusServiceUnavailable:
				busyCount.Add(1)
			default:
				otherCount.Add(1)
			}
		}(i)
	}

	wg.Wait()
	elapsed := time.Since(start)

	// Results
	success := successCount.Load()

	fmt.Println("========== STRESS TEST RESULTS ==========")
	fmt.Printf("Initial Stock:    %d\n", *initialStock)
	fmt.Printf("Total Checkouts:  %d\n", *totalRequests)
	fmt.Printf("Successful:       %d\n", success)
	fmt.Printf("Sold Out:         %d\n", soldOutCount.Load())
	fmt.Printf("Lock Busy:        %d\n", busyCount.Load())
	fmt.Printf("Other Failures:   %d\n", otherCount.Load())
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Println("==========================================")

	// Verify final stock
	var final product
	if _, err := call(client, http.MethodGet, *baseURL+"/api/products/"+created.ID, nil, &final); err != nil {
		log.Fatal("failed to read final stock", zap.Error(err))
	}
	fmt.Printf("Final Stock:      %d\n", final.Stock)

	failed := false
	if int(success) > *initialStock {
		fmt.Printf("FAIL: oversold, %d checkouts for %d units\n", success, *initialStock)
		failed = true
	}
	if final.Stock != *initialStock-int(success) {
		fmt.Printf("FAIL: expected stock %d, got %d\n", *initialStock-int(success), final.Stock)
		failed = true
	}
	if final.Stock < 0 {
		fmt.Printf("FAIL: negative stock %d\n", final.Stock)
		failed = true
	}
	if failed {
		os.Exit(1)
	}
	fmt.Println("PASS: no oversell, stock matches successful checkouts")
}

func call(client *http.Client, method, url string, body interface{}, out interface{}) (int, error) {
	var payload bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&payload).Encode(body); err != nil {
			return 0, err
		}
	}

	req, err := http.NewRequest(method, url, &payload)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return resp.StatusCode, err
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return resp.StatusCode, err
		}
	}
	return resp.StatusCode, nil
}
