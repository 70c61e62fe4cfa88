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

package objstore

import (
	"fmt"

	"github.com/shardwave/hsearch/internal/config"
)

// New builds the Store selected by storage.backend, the same factory-by-name
// switch the teacher uses to pick between persistence-files.go and
// persistence-s3.go.
func New(cfg config.StorageConfig) (Store, error) {
	switch cfg.Backend {
	case "local":
		return NewLocalStore(cfg.Local.Root), nil
	case "s3":
		return NewS3Store(S3Config{
			Bucket:         cfg.S3.Bucket,
			Region:         cfg.S3.Region,
			Endpoint:       cfg.S3.Endpoint,
			ForcePathStyle: cfg.S3.Endpoint != "",
		})
	default:
		return nil, fmt.Errorf("objstore: unknown backend %q", cfg.Backend)
	}
}
