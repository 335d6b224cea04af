package main

import (
	"fmt"
	"net/http"
	"os"
)

// Upstream de mentira para validar o gateway na mão:
//
//	UPSTREAM_URL=http://localhost:8081 IDENTITY_MODE=header go run ./cmd/gateway
//	curl -H 'X-User-Id: w1' -H 'X-User-Role: worker' localhost:8080/api/cattle
func main() {
	http.HandleFunc("/api/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		fmt.Fprintf(w, `{"upstream":"fazenda","method":%q,"path":%q}`+"\n", r.Method, r.URL.Path)
		fmt.Printf("Log: %s %s (usuario=%q, bypass=%q)\n", r.Method, r.URL.Path, r.Header.Get("X-User-Id"), r.Header.Get("X-Emergency-Bypass"))
	})

	addr := ":8081"
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		addr = v
	}
	fmt.Println("Servidor da fazenda rodando em", addr)
	if err := http.ListenAndServe(addr, nil); err != nil {
		fmt.Printf("Erro ao subir o servidor: %s\n", err)
	}
}
