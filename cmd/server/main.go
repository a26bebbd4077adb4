package main

import (
	"github.com/floratech/rose-counter/internal/bootstrap"
)

func main() {
	bootstrap.Run()
}
