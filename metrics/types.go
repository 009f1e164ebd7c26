package metrics

// Value represents a metric value as a float64.
type Value float64

// Dimension represents metric dimensions as key-value pairs.
// Dimensions are used to add contextual information to metrics,
// such as the transport name.
type Dimension map[string]string
