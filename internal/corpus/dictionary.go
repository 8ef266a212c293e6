package corpus

// EOS terminates every line of a corpus file.
const EOS = "<eos>"

// Dictionary maps words to dense ids in first-seen order.
type Dictionary struct {
	word2idx map[string]int
	idx2word []string
}

// NewDictionary creates an empty dictionary.
func NewDictionary() *Dictionary {
	return &Dictionary{word2idx: make(map[string]int)}
}

// DictionaryFrom rebuilds a dictionary from its id-ordered word list.
func DictionaryFrom(words []string) *Dictionary {
	d := NewDictionary()
	for _, w := range words {
		d.Add(w)
	}
	return d
}

// Add returns the id of word, assigning the next id if it is new.
func (d *Dictionary) Add(word string) int {
	if id, ok := d.word2idx[word]; ok {
		return id
	}
	id := len(d.idx2word)
	d.word2idx[word] = id
	d.idx2word = append(d.idx2word, word)
	return id
}

// ID looks up a word.
func (d *Dictionary) ID(word string) (int, bool) {
	id, ok := d.word2idx[word]
	return id, ok
}

// Word returns the word for id.
func (d *Dictionary) Word(id int) string { return d.idx2word[id] }

// Len returns the vocabulary size.
func (d *Dictionary) Len() int { return len(d.idx2word) }

// Words returns the vocabulary in id order. The slice is shared.
func (d *Dictionary) Words() []string { return d.idx2word }
