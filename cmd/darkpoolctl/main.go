package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"
)

// darkpoolctl 运维工具：查看状态、强制结束 epoch、撤单
func main() {
	addr := flag.String("addr", "http://127.0.0.1:8080", "darkpoold API 地址")
	token := flag.String("token", os.Getenv("DARKPOOL_SERVER_AUTH_TOKEN"), "API token")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: darkpoolctl [flags] state|viz|close [epochId]|cancel <orderId>\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	cli := &client{base: *addr, token: *token, http: &http.Client{Timeout: 10 * time.Second}}
	var (
		out []byte
		err error
	)
	switch args[0] {
	case "state":
		out, err = cli.do(http.MethodGet, "/state", nil)
	case "viz":
		out, err = cli.do(http.MethodGet, "/visualization", nil)
	case "close":
		body := map[string]string{}
		if len(args) > 1 {
			body["epochId"] = args[1]
		}
		out, err = cli.do(http.MethodPost, "/epochs/close", body)
	case "cancel":
		if len(args) < 2 {
			log.Fatal("cancel 需要订单 id")
		}
		out, err = cli.do(http.MethodDelete, "/orders/"+args[1], nil)
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		log.Fatalf("%s 失败: %v", args[0], err)
	}

	var pretty bytes.Buffer
	if json.Indent(&pretty, out, "", "  ") == nil {
		out = pretty.Bytes()
	}
	fmt.Println(string(out))
}

type client struct {
	base  string
	token string
	http  *http.Client
}

func (c *client) do(method, path string, payload interface{}) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, c.base+path, body)
	if err != nil {
		return nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, bytes.TrimSpace(raw))
	}
	return raw, nil
}
