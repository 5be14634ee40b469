package simple

import (
	"github.com/google/uuid"
)

// Generator produces task ids of the form "<jobID>-<uuid>".
type Generator[T ~string] struct{}

func New[T ~string]() *Generator[T] {
	return &Generator[T]{}
}

func (g *Generator[T]) Next(jobID T) string {
	id := uuid.NewString()
	if jobID == "" {
		return id
	}
	return string(jobID) + "-" + id
}
