package api

// Response is the decoded JSON body of one action-API call. The action
// API nests results several levels deep with server-version-dependent
// key names, so access goes through the typed helpers below rather
// than struct decoding.
type Response map[string]interface{}

// Map returns the nested object at key, or nil.
func (r Response) Map(key string) map[string]interface{} {
	return getMap(r[key])
}

// Slice returns the nested array at key, or nil.
func (r Response) Slice(key string) []interface{} {
	return getSlice(r[key])
}

// Query returns the top-level "query" result section, or nil.
func (r Response) Query() map[string]interface{} {
	return r.Map("query")
}

// Continue returns the continuation section of the response, or nil
// when the query is exhausted.
func (r Response) Continue() map[string]interface{} {
	return r.Map("continue")
}

func getMap(v interface{}) map[string]interface{} {
	m, _ := v.(map[string]interface{})
	return m
}

func getSlice(v interface{}) []interface{} {
	s, _ := v.([]interface{})
	return s
}

func getString(v interface{}) string {
	s, _ := v.(string)
	return s
}

func getInt(v interface{}) int {
	f, _ := v.(float64)
	return int(f)
}

func getBool(v interface{}) bool {
	b, _ := v.(bool)
	return b
}
