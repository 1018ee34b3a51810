package sqlite

import "github.com/denismitr/heron/internal/database"

type Options struct {
	database.CommonOptions
}
