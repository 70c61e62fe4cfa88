/*
Copyright (C) 2026  hsearch Contributors

	This program is free software: you can redistribute it and/or modify
	it under the terms of the GNU General Public License as published by
	the Free Software Foundation, either version 3 of the License, or
	(at your option) any later version.

	This program is distributed in the hope that it will be useful,
	but WITHOUT ANY WARRANTY; without even the implied warranty of
	MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
	GNU General Public License for more details.

	You should have received a copy of the GNU General Public License
	along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/shardwave/hsearch/internal/herrors"
)

// statusFor maps a herrors.Kind to the HTTP status this boundary layer
// exposes it as (spec §7: "the mapping from a Kind to an HTTP status is the
// external HTTP layer's job, not this package's" — this is that job).
func statusFor(kind herrors.Kind) int {
	switch kind {
	case herrors.InvalidRequest:
		return http.StatusBadRequest
	case herrors.NotFound:
		return http.StatusNotFound
	case herrors.Conflict:
		return http.StatusConflict
	case herrors.WrongOwner:
		return http.StatusTemporaryRedirect
	case herrors.Timeout:
		return http.StatusGatewayTimeout
	case herrors.Capacity, herrors.Unavailable:
		return http.StatusServiceUnavailable
	default: // Storage, Corruption
		return http.StatusInternalServerError
	}
}

type errorBody struct {
	Error string `json:"error"`
	Owner string `json:"owner,omitempty"`
}

// writeError renders err as a JSON error body at the status its Kind maps
// to. A WrongOwner error also sets X-Namespace-Owner so clients can cache
// the namespace->indexer mapping (spec §4.11).
func writeError(w http.ResponseWriter, err error) {
	kind := herrors.KindOf(err)
	status := statusFor(kind)

	body := errorBody{Error: err.Error()}
	var herr *herrors.Error
	if errors.As(err, &herr) && herr.Kind == herrors.WrongOwner {
		body.Owner = herr.Owner
		w.Header().Set("X-Namespace-Owner", herr.Owner)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
