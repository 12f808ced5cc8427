package clock

import "encoding/json"

func encodeVectorClock(vc map[string]int) ([]byte, error) {
	return json.Marshal(vc)
}

func decodeVectorClock(store Persister) (map[string]int, bool, error) {
	raw, ok, err := store.LoadBlob(keyVectorClock)
	if err != nil || !ok {
		return nil, ok, err
	}
	vc := make(map[string]int)
	if err := json.Unmarshal(raw, &vc); err != nil {
		return nil, false, err
	}
	return vc, true, nil
}
