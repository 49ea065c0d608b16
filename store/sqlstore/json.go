package sqlstore

import jsoniter "github.com/json-iterator/go"

var json = jsoniter.ConfigFastest
