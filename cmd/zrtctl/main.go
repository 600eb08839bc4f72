package main

import (
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

// zrtctl queries a running zephyrrouted's status API.
func main() {
	addr := flag.String("addr", "http://localhost:8080", "daemon status api address")
	op := flag.String("op", "neighbors", "what to query: neighbors | info | healthz")
	flag.Parse()

	var path string
	switch *op {
	case "neighbors", "info", "healthz":
		path = "/" + *op
	default:
		fmt.Fprintf(os.Stderr, "unknown op %q\n", *op)
		os.Exit(2)
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(*addr + path)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "%s: %s\n", resp.Status, body)
		os.Exit(1)
	}
	fmt.Println(string(body))
}
