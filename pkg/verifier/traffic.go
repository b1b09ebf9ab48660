package verifier

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// TrafficMatrix is an N×N nonnegative integer matrix where entry
// (i,j) is the number of chunks rank i sends to rank j.
type TrafficMatrix struct {
	NumRanks int
	Cells    []int // row-major, NumRanks*NumRanks
}

func (m *TrafficMatrix) at(i, j int) int { return m.Cells[i*m.NumRanks+j] }

// ReadTrafficMatrix reads the first numRanks rows of a CSV traffic
// matrix, each of exactly numRanks comma-separated non-negative
// integers. Fewer rows is an error; lines after row numRanks are not
// read.
func ReadTrafficMatrix(r io.Reader, numRanks int) (*TrafficMatrix, error) {
	m := &TrafficMatrix{NumRanks: numRanks, Cells: make([]int, numRanks*numRanks)}
	scanner := bufio.NewScanner(r)
	for i := 0; i < numRanks; i++ {
		if !scanner.Scan() {
			return nil, errors.Errorf("traffic matrix: insufficient data for rank %d", i)
		}
		fields := strings.Split(strings.TrimSpace(scanner.Text()), ",")
		if len(fields) != numRanks {
			return nil, errors.Errorf("traffic matrix: row %d: expected %d columns, got %d", i, numRanks, len(fields))
		}
		for j, field := range fields {
			v, err := strconv.Atoi(strings.TrimSpace(field))
			if err != nil || v < 0 {
				return nil, errors.Errorf("traffic matrix: row %d col %d: invalid non-negative integer %q", i, j, field)
			}
			m.Cells[i*numRanks+j] = v
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "traffic matrix")
	}
	return m, nil
}

// accumulateRowSums returns, for row i, the running sum of columns
// 0..j inclusive.
func accumulateRowSums(m *TrafficMatrix) []int {
	n := m.NumRanks
	acc := make([]int, n*n)
	for i := 0; i < n; i++ {
		acc[i*n] = m.at(i, 0)
		for j := 1; j < n; j++ {
			acc[i*n+j] = acc[i*n+j-1] + m.at(i, j)
		}
	}
	return acc
}

// accumulateColSums returns, for column j, the running sum of rows
// 0..i inclusive.
func accumulateColSums(m *TrafficMatrix) []int {
	n := m.NumRanks
	acc := make([]int, n*n)
	for j := 0; j < n; j++ {
		acc[j] = m.at(0, j)
	}
	for i := 1; i < n; i++ {
		for j := 0; j < n; j++ {
			acc[i*n+j] = acc[(i-1)*n+j] + m.at(i, j)
		}
	}
	return acc
}

// CheckRowColumnTotals verifies every row total and column total
// equals numRanks*chunkFactor, as required before an alltoallv run.
func CheckRowColumnTotals(m *TrafficMatrix, chunkFactor int) error {
	n := m.NumRanks
	want := n * chunkFactor
	rowAcc := accumulateRowSums(m)
	for i := 0; i < n; i++ {
		if got := rowAcc[i*n+n-1]; got != want {
			return fmt.Errorf("traffic matrix: rank %d row total %d, expected %d", i, got, want)
		}
	}
	colAcc := accumulateColSums(m)
	for j := 0; j < n; j++ {
		if got := colAcc[(n-1)*n+j]; got != want {
			return fmt.Errorf("traffic matrix: rank %d column total %d, expected %d", j, got, want)
		}
	}
	return nil
}

// AllToAllVFuncs builds the init_fn/check_fn pair for the alltoallv
// verifier from the traffic matrix: rank i's input is laid out
// densely as "{i}_{k}"; each rank j's expected output is the
// concatenation, over senders i in rank order, of the chunks rank i
// routed to rank j.
func AllToAllVFuncs(m *TrafficMatrix) (initFn, checkFn DataFunc) {
	n := m.NumRanks
	rowAcc := accumulateRowSums(m)
	colAcc := accumulateColSums(m)

	result := make([][]string, n)
	for j := 0; j < n; j++ {
		total := colAcc[(n-1)*n+j]
		result[j] = make([]string, total)
	}
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			startChunk := 0
			if j > 0 {
				startChunk = rowAcc[i*n+j-1]
			}
			endChunk := rowAcc[i*n+j]
			resultChunk := 0
			if i > 0 {
				resultChunk = colAcc[(i-1)*n+j]
			}
			for k := startChunk; k < endChunk; k++ {
				result[j][resultChunk] = fmt.Sprintf("%d_%d", i, k)
				resultChunk++
			}
		}
	}

	initFn = func(rank, index int) string {
		return fmt.Sprintf("%d_%d", rank, index)
	}
	checkFn = func(rank, index int) string {
		return result[rank][index]
	}
	return initFn, checkFn
}
