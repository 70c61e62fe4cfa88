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

package cache

import "fmt"

// Structured cache keys (spec §4.8): every key is namespaced so Pin(ns) and
// eviction accounting stay meaningful across namespaces sharing one cache.

func KeyManifest(ns string) string {
	return fmt.Sprintf("manifest:%s", ns)
}

func KeyCentroids(ns, segmentID string) string {
	return fmt.Sprintf("vidx:%s:%s:centroids", ns, segmentID)
}

func KeyPostings(ns, segmentID string) string {
	return fmt.Sprintf("vidx:%s:%s:postings", ns, segmentID)
}

func KeySegment(ns, segmentID string) string {
	return fmt.Sprintf("segment:%s:%s", ns, segmentID)
}

func KeyFullText(ns, segmentID, field string) string {
	return fmt.Sprintf("fts:%s:%s:%s", ns, segmentID, field)
}

func KeyFilterIndex(ns, segmentID, attribute string) string {
	return fmt.Sprintf("filteridx:%s:%s:%s", ns, segmentID, attribute)
}
