package embedding

// adjustedRandIndex compares two labelings of the same points. 1 means
// identical partitions; 0 is the expectation for random labelings.
func adjustedRandIndex(truth, predicted []int) float64 {
	n := len(truth)
	if n != len(predicted) || n < 2 {
		return 0
	}

	contingency := make(map[[2]int]int)
	rows := make(map[int]int)
	cols := make(map[int]int)
	for i := range truth {
		contingency[[2]int{truth[i], predicted[i]}]++
		rows[truth[i]]++
		cols[predicted[i]]++
	}

	var index, sumRows, sumCols float64
	for _, c := range contingency {
		index += choose2(c)
	}
	for _, c := range rows {
		sumRows += choose2(c)
	}
	for _, c := range cols {
		sumCols += choose2(c)
	}

	expected := sumRows * sumCols / choose2(n)
	maxIndex := (sumRows + sumCols) / 2
	if maxIndex == expected {
		// Degenerate partitions (all singletons or one cluster).
		if index == expected {
			return 1
		}
		return 0
	}
	return (index - expected) / (maxIndex - expected)
}

func choose2(n int) float64 {
	return float64(n) * float64(n-1) / 2
}
