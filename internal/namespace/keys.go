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

package namespace

import "fmt"

// Object key layout for segment payloads and indexes (spec §6), matching the
// "ns/{namespace}/..." prefix internal/manifest and internal/fulltext
// already use.

func payloadKey(namespace, segmentID string) string {
	return fmt.Sprintf("ns/%s/segments/%s/rows.bin", namespace, segmentID)
}

func vectorIndexKey(namespace, segmentID string) string {
	return fmt.Sprintf("ns/%s/segments/%s/vidx.bin", namespace, segmentID)
}

func filterIndexKey(namespace, segmentID string) string {
	return fmt.Sprintf("ns/%s/segments/%s/filters.bin", namespace, segmentID)
}

func namespacePrefix(namespace string) string {
	return fmt.Sprintf("ns/%s/", namespace)
}
