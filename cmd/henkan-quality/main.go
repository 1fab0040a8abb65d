// henkan-quality measures conversion quality.
//
// It types the reading of every case into a session, compares the
// converted text with the expected text using character BLEU and reports
// the mean score per source. Runs are stored in the history database so
// they can be compared later.
package main

func main() {
	Execute()
}
