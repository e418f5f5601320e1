package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Capybara-Clinic/capybara-qr-order/internal/adapter/handler"
)

const (
	initialStock  = 20
	totalRequests = 50
	servePasses   = 5
)

var client = &http.Client{Timeout: 10 * time.Second}

func main() {
	baseURL := flag.String("url", "http://localhost:5000", "server base URL")
	menuID := flag.Int64("menu", 1, "stock-tracked menu id to drain")
	tables := flag.Int64("tables", 12, "number of provisioned tables")
	flag.Parse()

	stockRace(*baseURL, *menuID, *tables)
	serveRace(*baseURL, *menuID)
}

// stockRace checks that concurrent submits never oversell a tracked item.
func stockRace(baseURL string, menuID, tables int64) {
	stock := initialStock
	mustDo(http.MethodPatch, fmt.Sprintf("%s/cashier/menu/%d/stock", baseURL, menuID), handler.StockHTTPRequest{StockQuantity: &stock}, nil)

	var successCount atomic.Int32
	var failCount atomic.Int32

	var wg sync.WaitGroup
	start := time.Now()

	for i := 0; i < totalRequests; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()

			req := handler.SubmitOrderHTTPRequest{
				TableID:   int64(n)%tables + 1,
				Depositor: fmt.Sprintf("guest-%d", n),
				Items:     []handler.ItemHTTPRequest{{MenuID: menuID, Quantity: 1}},
			}
			status, err := do(http.MethodPost, baseURL+"/order/submit", req, nil)
			if err == nil && status == http.StatusCreated {
				successCount.Add(1)
			} else {
				failCount.Add(1)
			}
		}(i)
	}

	wg.Wait()
	elapsed := time.Since(start)

	success := successCount.Load()
	fail := failCount.Load()

	fmt.Println("========== STOCK RACE RESULTS ==========")
	fmt.Printf("Initial Stock:    %d\n", initialStock)
	fmt.Printf("Total Requests:   %d\n", totalRequests)
	fmt.Printf("Successful:       %d\n", success)
	fmt.Printf("Failed:           %d\n", fail)
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Println("========================================")

	if success == int32(initialStock) && fail == int32(totalRequests-initialStock) {
		fmt.Printf("PASS: Exactly %d orders succeeded, %d failed\n", initialStock, totalRequests-initialStock)
	} else {
		fmt.Printf("FAIL: Expected %d success/%d fail, got %d/%d\n",
			initialStock, totalRequests-initialStock, success, fail)
	}
}

// serveRace marks every item of one order served from many goroutines at once
// and checks that the order completes exactly once.
func serveRace(baseURL string, menuID int64) {
	restock := initialStock
	mustDo(http.MethodPatch, fmt.Sprintf("%s/cashier/menu/%d/stock", baseURL, menuID), handler.StockHTTPRequest{StockQuantity: &restock}, nil)

	var created handler.MessageResponse
	mustDo(http.MethodPost, baseURL+"/cashier/manual_order", handler.SubmitOrderHTTPRequest{
		TableID:       1,
		DepositorName: "stress",
		Items:         []handler.ItemHTTPRequest{{MenuID: menuID, Quantity: 1}},
	}, &created)

	var info handler.PaymentInfoResponse
	mustDo(http.MethodGet, fmt.Sprintf("%s/order/payment_info/%d", baseURL, created.OrderID), nil, &info)

	var completedNow atomic.Int32
	var wg sync.WaitGroup
	for pass := 0; pass < servePasses; pass++ {
		for _, item := range info.Items {
			wg.Add(1)
			go func(itemID int64) {
				defer wg.Done()

				var resp handler.ServeItemResponse
				status, err := do(http.MethodPost, baseURL+"/serving/complete", handler.ServeItemHTTPRequest{OrderDetailID: itemID}, &resp)
				if err != nil || status != http.StatusOK {
					return
				}
				if resp.CompletedNow {
					completedNow.Add(1)
				}
			}(item.OrderDetailID)
		}
	}
	wg.Wait()

	fmt.Println("========== SERVE RACE RESULTS ==========")
	fmt.Printf("Order:            %d\n", created.OrderID)
	fmt.Printf("Serve Calls:      %d\n", servePasses*len(info.Items))
	fmt.Printf("Completed Now:    %d\n", completedNow.Load())
	fmt.Println("========================================")

	mustDo(http.MethodGet, fmt.Sprintf("%s/order/payment_info/%d", baseURL, created.OrderID), nil, &info)
	if completedNow.Load() == 1 && info.OrderStatus == "COMPLETED" {
		fmt.Println("PASS: order completed exactly once")
	} else {
		fmt.Printf("FAIL: completed_now reported %d times, order status %s\n", completedNow.Load(), info.OrderStatus)
	}
}

func do(method, url string, body, dst any) (int, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return 0, err
		}
	}

	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if dst != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
			return resp.StatusCode, err
		}
	}
	return resp.StatusCode, nil
}

func mustDo(method, url string, body, dst any) {
	status, err := do(method, url, body, dst)
	if err != nil {
		log.Fatalf("%s %s: %v", method, url, err)
	}
	if status >= 300 {
		log.Fatalf("%s %s: unexpected status %d", method, url, status)
	}
}
