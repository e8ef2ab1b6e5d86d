package codeforces

import (
	"encoding/json"
	"errors"
	"fmt"
)

// VerdictOK is the verdict string Codeforces assigns to accepted submissions.
const VerdictOK = "OK"

// User is the subset of user.info the bot needs. FirstName is the mutable
// profile field used for the verification token exchange.
type User struct {
	Handle    string `json:"handle"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Rating    int    `json:"rating"`
}

// ProblemRef identifies a problem in the global catalog.
type ProblemRef struct {
	ContestID int    `json:"contestId"`
	Index     string `json:"index"`
	Name      string `json:"name"`
	Rating    int    `json:"rating"`
}

// Key returns the solved-set identifier, e.g. "1700A".
func (p ProblemRef) Key() string {
	return fmt.Sprintf("%d%s", p.ContestID, p.Index)
}

// URL returns the public problem page.
func (p ProblemRef) URL() string {
	return fmt.Sprintf("https://codeforces.com/problemset/problem/%d/%s", p.ContestID, p.Index)
}

// Submission is one entry of user.status.
type Submission struct {
	ID                  int64      `json:"id"`
	CreationTimeSeconds int64      `json:"creationTimeSeconds"`
	Problem             ProblemRef `json:"problem"`
	Verdict             string     `json:"verdict"`
}

// envelope is the Codeforces API response wrapper. Status is "OK" or
// "FAILED"; Comment explains a failure.
type envelope struct {
	Status  string          `json:"status"`
	Comment string          `json:"comment"`
	Result  json.RawMessage `json:"result"`
}

type problemsetResult struct {
	Problems []ProblemRef `json:"problems"`
}

// DomainError is a non-OK answer from the API: the transport worked but the
// service rejected the request (unknown handle, bad parameters, ...).
type DomainError struct {
	Comment string
}

func (e *DomainError) Error() string {
	if e.Comment == "" {
		return "codeforces: request failed"
	}
	return "codeforces: " + e.Comment
}

// IsDomainError reports whether err is a Codeforces domain rejection rather
// than a transport failure.
func IsDomainError(err error) bool {
	var de *DomainError
	return errors.As(err, &de)
}
