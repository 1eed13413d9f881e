package versioncompare

import "sort"

func stableSortDescending(versions []string, c Comparator) {
	sort.SliceStable(versions, func(i, j int) bool {
		return c.Compare(versions[i], versions[j]) > 0
	})
}
