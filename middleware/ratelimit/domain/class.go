package domain

import (
	"errors"
	"fmt"
	"strings"
)

var ErrUnknownEndpointClass = errors.New("ratelimit: unknown endpoint class")

// EndpointClass é a categoria de operação de uma rota. Cada rota tem exatamente uma.
type EndpointClass int

const (
	ClassAuth EndpointClass = iota
	ClassRead
	ClassWrite
	ClassCattleRead
	ClassCattleWrite
	ClassHealthRecords
	ClassReports
	ClassFiles
	ClassBulk
	ClassExternalAPI

	numClasses
)

// NumClasses é a quantidade de classes.
const NumClasses = int(numClasses)

var classNames = [NumClasses]string{
	ClassAuth:          "AUTH",
	ClassRead:          "READ",
	ClassWrite:         "WRITE",
	ClassCattleRead:    "CATTLE_READ",
	ClassCattleWrite:   "CATTLE_WRITE",
	ClassHealthRecords: "HEALTH_RECORDS",
	ClassReports:       "REPORTS",
	ClassFiles:         "FILES",
	ClassBulk:          "BULK",
	ClassExternalAPI:   "EXTERNAL_API",
}

// AllClasses retorna todas as classes na ordem do enum.
func AllClasses() []EndpointClass {
	out := make([]EndpointClass, NumClasses)
	for i := range out {
		out[i] = EndpointClass(i)
	}
	return out
}

func (c EndpointClass) Valid() bool { return c >= 0 && c < numClasses }

func (c EndpointClass) String() string {
	if !c.Valid() {
		return fmt.Sprintf("EndpointClass(%d)", int(c))
	}
	return classNames[c]
}

// ParseEndpointClass aceita o nome canônico em qualquer caixa ("cattle_write").
func ParseEndpointClass(s string) (EndpointClass, error) {
	name := strings.ToUpper(strings.TrimSpace(s))
	for i, n := range classNames {
		if n == name {
			return EndpointClass(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownEndpointClass, s)
}
