// SPDX-License-Identifier: MIT
// Copyright © 2024–2026 Alexander Demin

package rabbit

// Router maps queue names to their handlers; see Client.Serve.
type Router map[string]Handler

func NewRouter() Router {
	return make(Router)
}

func (r Router) Add(queue string, h Handler) {
	r[queue] = h
}
